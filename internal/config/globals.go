package config

import "github.com/spf13/pflag"

const AppName = "roomdisplay"

// Version is stamped at build time with -ldflags "-X ...config.Version=".
var Version = "dev"

// bindFlags points every flag at the matching field of c, so the current
// field values become the flag defaults.
func (c *Config) bindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.DeviceID, "device", "d", c.DeviceID, "device id, used in topics and the client id")
	fs.StringVar(&c.Timezone, "timezone", c.Timezone, "IANA timezone for displayed times (default UTC)")

	fs.StringVarP(&c.MQTT.Broker, "broker", "m", c.MQTT.Broker, "MQTT broker host")
	fs.IntVarP(&c.MQTT.Port, "port", "p", c.MQTT.Port, "MQTT broker port")
	fs.StringVar(&c.MQTT.Prefix, "prefix", c.MQTT.Prefix, "topic prefix")
	fs.StringVarP(&c.MQTT.Username, "username", "u", c.MQTT.Username, "MQTT username")
	fs.StringVar(&c.MQTT.Password, "password", c.MQTT.Password, "MQTT password (prefer "+EnvPassword+")")
	fs.BoolVar(&c.MQTT.TLS, "tls", c.MQTT.TLS, "connect with TLS")
	fs.BoolVar(&c.MQTT.TLSInsecure, "tls-insecure", c.MQTT.TLSInsecure, "skip broker certificate verification")
	fs.DurationVar(&c.MQTT.KeepAlive, "keepalive", c.MQTT.KeepAlive, "MQTT keepalive")
	fs.DurationVar(&c.MQTT.ConnectTimeout, "connect-timeout", c.MQTT.ConnectTimeout, "timeout for connect and subscribe")
	fs.Uint8Var(&c.MQTT.PingQoS, "ping-qos", c.MQTT.PingQoS, "QoS of liveness pings")
	fs.Uint8Var(&c.MQTT.StatusQoS, "status-qos", c.MQTT.StatusQoS, "QoS of status messages")
	fs.BoolVar(&c.MQTT.PublishInfo, "publish-info", c.MQTT.PublishInfo, "publish host info after connecting")

	fs.DurationVar(&c.Timing.RotationInterval, "rotation", c.Timing.RotationInterval, "time each view stays on screen")
	fs.DurationVar(&c.Timing.SettleDelay, "settle", c.Timing.SettleDelay, "delay before rotation starts")
	fs.DurationVar(&c.Timing.DataTimeout, "data-timeout", c.Timing.DataTimeout, "clear room data after this long without updates")
	fs.DurationVar(&c.Timing.RenderSpacing, "render-spacing", c.Timing.RenderSpacing, "minimum time between display updates")
	fs.DurationVar(&c.Timing.PingFloor, "ping-floor", c.Timing.PingFloor, "lower bound of the liveness interval")
	fs.IntVar(&c.Timing.FailureThreshold, "failure-threshold", c.Timing.FailureThreshold, "consecutive failures before escalating")
	fs.DurationVar(&c.Timing.MaxBackoff, "max-backoff", c.Timing.MaxBackoff, "upper bound of the reconnect backoff")
	fs.DurationVar(&c.Timing.ShutdownTimeout, "shutdown-timeout", c.Timing.ShutdownTimeout, "time allowed for a clean shutdown")

	fs.StringVar(&c.Display.Mode, "display", c.Display.Mode, "display device: console or web")
	fs.StringVar(&c.Display.WebAddr, "web-addr", c.Display.WebAddr, "listen address of the web display")
	fs.StringVarP(&c.Display.CANInterface, "can", "c", c.Display.CANInterface, "CAN interface of the occupancy indicator (e.g. can0)")
	fs.Uint32Var(&c.Display.CANID, "can-id", c.Display.CANID, "CAN id of indicator frames")

	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "log level")
	fs.StringVar(&c.Log.Format, "log-format", c.Log.Format, "log format: console or json")
}
