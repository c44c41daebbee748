// Package config loads vdctl's on-disk configuration, following the
// teacher's config.go shape: a yaml.v2 document looked up beside the
// executable then under /etc, parsed once at startup, wired straight
// into the logger package.
package config

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/microchip-ung/velocitydrive-go/pkg/utils/logger"
)

var (
	APPNAME    string = "vdctl"
	VERSION    string = "undefined"
	BUILD_TIME string = "undefined"
	GO_VERSION string = "undefined"
)

// Config is vdctl's full on-disk configuration.
type Config struct {
	Serial struct {
		Port string `yaml:"port"` // e.g. /dev/ttyACM0
		Baud int    `yaml:"baud"`
	}
	Timeouts struct {
		RequestSeconds int `yaml:"request_seconds"`
		PingSeconds    int `yaml:"ping_seconds"`
	}
	Logger struct {
		Dir    string
		Level  string
		Rotate bool
	}
}

// RequestTimeout is Timeouts.RequestSeconds as a duration, or 0 when
// unset (0 stands for the tracker's own default).
func (c *Config) RequestTimeout() time.Duration {
	if c.Timeouts.RequestSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Timeouts.RequestSeconds) * time.Second
}

// PingTimeout is Timeouts.PingSeconds as a duration, falling back to
// 1s when unset.
func (c *Config) PingTimeout() time.Duration {
	if c.Timeouts.PingSeconds <= 0 {
		return time.Second
	}
	return time.Duration(c.Timeouts.PingSeconds) * time.Second
}

func init() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stdout, APPNAME+", version: "+VERSION+" (built at "+BUILD_TIME+") "+GO_VERSION)
		flag.PrintDefaults()
	}
	flag.Parse()
}

// Parse reads and validates the configuration file, applying its
// logger section to the logger package before returning. Panics if
// the file cannot be found or parsed: a fail-fast startup behavior.
func Parse() *Config {
	ex, e := os.Executable()
	if e != nil {
		panic(e)
	}

	cfile := filepath.Dir(ex) + "/" + APPNAME + ".yml"
	if _, err := os.Stat(cfile); os.IsNotExist(err) {
		cfile = "/etc/" + APPNAME + ".yml"
	}

	conf := new(Config)
	data, err := ioutil.ReadFile(cfile)
	if err != nil {
		panic(err)
	}
	if err := yaml.Unmarshal(data, conf); err != nil {
		panic(err)
	}

	if conf.Serial.Port == "" {
		panic(fmt.Errorf("config: serial.port is required"))
	}
	if conf.Serial.Baud == 0 {
		conf.Serial.Baud = 115200
	}

	defer logger.Sync()
	if conf.Logger.Rotate {
		if len(conf.Logger.Dir) == 0 {
			conf.Logger.Dir = filepath.Dir(ex)
		}
		out := logger.NewProductionRotateByTime(conf.Logger.Dir + "/" + APPNAME + ".log")
		logger.ReplaceDefault(logger.New(out, logger.InfoLevel))
	}
	switch conf.Logger.Level {
	case "debug":
		logger.SetLevel(logger.DebugLevel)
	case "info":
		logger.SetLevel(logger.InfoLevel)
	case "warn":
		logger.SetLevel(logger.WarnLevel)
	case "error":
		logger.SetLevel(logger.ErrorLevel)
	default:
		logger.SetLevel(logger.InfoLevel)
	}

	return conf
}
