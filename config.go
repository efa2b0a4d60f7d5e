package discussions

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"git.sr.ht/~emersion/go-scfg"

	"git.sr.ht/~taiite/discussions/irc"
)

// PasswordEnv is read when the configuration file sets no password.
const PasswordEnv = "DISCUSSIONS_PASSWORD"

type Config struct {
	Addr          string
	Nick          string
	Real          string
	User          string
	Password      *string
	TLS           bool
	TLSSkipVerify bool
	Channels      []string

	// Metrics is the listen address of the Prometheus endpoint, if any.
	Metrics string

	Debug bool
}

func Defaults() (cfg Config, err error) {
	cfg = Config{
		Addr:          "",
		Nick:          "",
		Real:          "",
		User:          "",
		Password:      nil,
		TLS:           true,
		TLSSkipVerify: false,
		Channels:      nil,
		Metrics:       "",
		Debug:         false,
	}

	return
}

func LoadConfigFile(filename string) (cfg Config, err error) {
	cfg, err = Defaults()
	if err != nil {
		return
	}

	err = unmarshal(filename, &cfg)
	if err != nil {
		return cfg, err
	}
	if cfg.Addr == "" {
		return cfg, errors.New("addr is required")
	}
	if cfg.Nick == "" {
		return cfg, errors.New("nick is required")
	}
	if cfg.User == "" {
		cfg.User = cfg.Nick
	}
	if cfg.Real == "" {
		cfg.Real = cfg.Nick
	}
	if cfg.Password == nil {
		if password, ok := os.LookupEnv(PasswordEnv); ok {
			cfg.Password = &password
		}
	}
	var u *url.URL
	if u, err = url.Parse(cfg.Addr); err == nil && u.Scheme != "" {
		switch u.Scheme {
		case "ircs":
			cfg.TLS = true
		case "irc+insecure":
			cfg.TLS = false
		case "irc":
			// Could be TLS or plaintext, keep TLS as is.
		default:
			if u.Host != "" {
				return cfg, fmt.Errorf("invalid IRC addr scheme: %v", cfg.Addr)
			}
		}
		if u.Host != "" {
			cfg.Addr = u.Host
		}
	}
	err = nil
	return
}

// Params returns the connection parameters described by cfg.
func (cfg *Config) Params() Params {
	p := Params{
		Addr:          cfg.Addr,
		TLS:           cfg.TLS,
		TLSSkipVerify: cfg.TLSSkipVerify,
		Session: irc.SessionParams{
			Nickname: cfg.Nick,
			Username: cfg.User,
			RealName: cfg.Real,
		},
		Channels: append([]string(nil), cfg.Channels...),
		Debug:    cfg.Debug,
	}
	if cfg.Password != nil {
		p.Session.Auth = &irc.SASLPlain{
			Username: cfg.User,
			Password: *cfg.Password,
		}
	}
	return p
}

func parseBool(d *scfg.Directive, v *bool) error {
	var s string
	if err := d.ParseParams(&s); err != nil {
		return err
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("directive %q: %v", d.Name, err)
	}
	*v = b
	return nil
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
		case "tls":
			if err := parseBool(d, &cfg.TLS); err != nil {
				return err
			}
		case "tls-skip-verify":
			if err := parseBool(d, &cfg.TLSSkipVerify); err != nil {
				return err
			}
		case "metrics":
			if err := d.ParseParams(&cfg.Metrics); err != nil {
				return err
			}
		case "debug":
			if err := parseBool(d, &cfg.Debug); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown directive %q", d.Name)
		}
	}

	return
}
