package petrel

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"git.sr.ht/~emersion/go-scfg"

	"github.com/petrel-im/petrel/irc"
)

type Config struct {
	Addr     string
	Nick     string
	Real     string
	User     string
	Password *string
	Channels []string

	TLSSkipVerify bool

	Typings           bool
	MultilineFallback irc.MultilineFallback

	Debug bool
}

func Defaults() Config {
	return Config{
		Typings:           true,
		MultilineFallback: irc.MultilineFallbackJoin,
	}
}

func LoadConfigFile(filename string) (cfg Config, err error) {
	cfg = Defaults()

	err = unmarshal(filename, &cfg)
	if err != nil {
		return cfg, err
	}
	if cfg.Addr == "" {
		return cfg, errors.New("address is required")
	}
	if cfg.Nick == "" {
		return cfg, errors.New("nickname is required")
	}
	if cfg.User == "" {
		cfg.User = cfg.Nick
	}
	if cfg.Real == "" {
		cfg.Real = cfg.Nick
	}
	if _, err := parseAddress(cfg.Addr); err != nil {
		return cfg, err
	}
	return
}

func unmarshal(filename string, cfg *Config) (err error) {
	directives, err := scfg.Load(filename)
	if err != nil {
		return fmt.Errorf("error parsing scfg: %s", err)
	}

	for _, d := range directives {
		switch d.Name {
		case "address":
			if err := d.ParseParams(&cfg.Addr); err != nil {
				return err
			}
		case "nickname":
			if err := d.ParseParams(&cfg.Nick); err != nil {
				return err
			}
		case "username":
			if err := d.ParseParams(&cfg.User); err != nil {
				return err
			}
		case "realname":
			if err := d.ParseParams(&cfg.Real); err != nil {
				return err
			}
		case "password":
			// if a password-cmd is provided, don't use this value
			if directives.Get("password-cmd") != nil {
				continue
			}

			var password string
			if err := d.ParseParams(&password); err != nil {
				return err
			}
			cfg.Password = &password
		case "password-cmd":
			var cmdName string
			if err := d.ParseParams(&cmdName); err != nil {
				return err
			}

			cmd := exec.Command(cmdName, d.Params[1:]...)
			var stdout []byte
			if stdout, err = cmd.Output(); err != nil {
				return fmt.Errorf("error running password command: %s", err)
			}

			passCmdOut := strings.Split(string(stdout), "\n")
			if len(passCmdOut) >= 1 {
				cfg.Password = &passCmdOut[0]
			}
		case "channel":
			cfg.Channels = append(cfg.Channels, d.Params...)
		case "tls-skip-verify":
			var skip string
			if err := d.ParseParams(&skip); err != nil {
				return err
			}
			cfg.TLSSkipVerify, err = strconv.ParseBool(skip)
			if err != nil {
				return err
			}
		case "typings":
			var typings string
			if err := d.ParseParams(&typings); err != nil {
				return err
			}
			cfg.Typings, err = strconv.ParseBool(typings)
			if err != nil {
				return err
			}
		case "multiline-fallback":
			var fallback string
			if err := d.ParseParams(&fallback); err != nil {
				return err
			}
			switch fallback {
			case "join":
				cfg.MultilineFallback = irc.MultilineFallbackJoin
			case "split":
				cfg.MultilineFallback = irc.MultilineFallbackSplit
			default:
				return fmt.Errorf("unknown multiline-fallback value %q, expected join or split", fallback)
			}
		case "debug":
			var debug string
			if err := d.ParseParams(&debug); err != nil {
				return err
			}
			cfg.Debug, err = strconv.ParseBool(debug)
			if err != nil {
				return err
			}
		}
	}

	return nil
}
