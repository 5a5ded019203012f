package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// reloadSettleDelay coalesces the burst of fsnotify events most editors
// emit per save; the reload runs once the file has been quiet this long
const reloadSettleDelay = 200 * time.Millisecond

// Load reads config.yaml (or the file named by HOSTPOOL_CONFIG) plus
// HOSTPOOL_* environment variables and returns the validated configuration.
//
// When onReload is non-nil the config file is watched: edits are re-parsed
// and re-validated, and only settings that pass validation reach the
// callback. A fat-fingered save never hands a running pool an unusable
// connection budget; it is simply ignored until the file is fixed.
func Load(onReload func(*Config)) (*Config, error) {
	v := viper.New()
	if path := os.Getenv("HOSTPOOL_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("HOSTPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := parse(v)
	if err != nil {
		return nil, err
	}

	if onReload != nil {
		var mu sync.Mutex
		var pending *time.Timer
		v.OnConfigChange(func(fsnotify.Event) {
			mu.Lock()
			defer mu.Unlock()
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(reloadSettleDelay, func() {
				fresh, err := parse(v)
				if err != nil {
					return
				}
				onReload(fresh)
			})
		})
		v.WatchConfig()
	}
	return cfg, nil
}

// parse runs one read-unmarshal-validate cycle over the viper instance
func parse(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		// running on pure defaults and env vars is fine; a file that was
		// named explicitly but is unreadable is not
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.Pool.ApplyDefaults()
	if err := cfg.Pool.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
