package config

import (
	"context"
	"errors"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"streamex.com/pkg/logger"
)

// Options controls one Load call.
type Options struct {
	Service  string         // config/{service}.yaml, env prefix upper(service)
	Defaults map[string]any // lowest precedence
	Flags    *pflag.FlagSet // highest precedence, bound by flag name with "-" -> "_"
	// EnvAliases binds extra env names that skip the prefix, e.g. live_data -> USE_LIVE_DATA.
	EnvAliases map[string][]string
}

// Load 按优先级合并: defaults < config 文件 < 环境变量 < 命令行参数, 然后 Unmarshal 到 out.
// 配置文件不存在不算错误。
func Load(opts Options, out any) (*viper.Viper, error) {
	v := viper.New()
	for k, val := range opts.Defaults {
		v.SetDefault(k, val)
	}

	v.SetConfigName(opts.Service)
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	// 环境变量覆盖，例如 STREAM_SERVER_HTTP_ADDR 覆盖 http.addr
	v.SetEnvPrefix(envPrefix(opts.Service))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, names := range opts.EnvAliases {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, err
		}
	}

	if opts.Flags != nil {
		var bindErr error
		opts.Flags.VisitAll(func(f *pflag.Flag) {
			if bindErr == nil {
				bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
			}
		})
		if bindErr != nil {
			return nil, bindErr
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}

	logger.Info(context.Background(), "config loaded",
		zap.String("service", opts.Service),
		zap.String("file", v.ConfigFileUsed()),
	)
	return v, nil
}

// Watch 监听配置文件变更；没有配置文件时不做任何事。
// onChange 在 fsnotify 的回调协程里执行，不要阻塞。
func Watch(v *viper.Viper, onChange func(v *viper.Viper)) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info(context.Background(), "config file changed", zap.String("file", e.Name))
		onChange(v)
	})
	v.WatchConfig()
}

func envPrefix(service string) string {
	return strings.ToUpper(strings.ReplaceAll(service, "-", "_"))
}
