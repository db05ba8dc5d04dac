/*
Package config resolves initd's process-level configuration from
flags, environment variables, and an optional initd.yaml, in that
priority order.

	cmd := &cobra.Command{Use: "initd"}
	v := viper.New()
	config.Bind(cmd, v)
	cfg, err := config.Load(v)
*/
package config
