package command

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"wspreset/client"
	"wspreset/codec"
	"wspreset/connection"
	"wspreset/discovery"
	"wspreset/loadbalance"
	"wspreset/transport"
)

var (
	callURL      string
	callPreset   string
	callData     string
	callDiscover bool
	callTimeout  time.Duration
	callCustom   []string
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Connect to a server, launch one preset and print its reply",
	Example: `  wspreset call --preset vehicle --data '{"vehicleType":"bike","dataRequest":"wheels"}'
  wspreset call --url tcp://127.0.0.1:9090 --preset vehicle --set vehicleType=bike --set wheels=2`,
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVar(&callURL, "url", "", "server address (ws://, wss:// or tcp://); overrides client.url")
	callCmd.Flags().StringVar(&callPreset, "preset", "", "preset to launch")
	callCmd.Flags().StringVar(&callData, "data", "null", "JSON content to send")
	callCmd.Flags().BoolVar(&callDiscover, "discover", false, "find the server through etcd")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 15*time.Second, "overall deadline")
	callCmd.Flags().StringArrayVar(&callCustom, "set", nil, "custom data key=value announced to the server")
	_ = callCmd.MarkFlagRequired("preset")
}

func runCall(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig("wspreset-call")
	if err != nil {
		return err
	}
	var content any
	if err := json.Unmarshal([]byte(callData), &content); err != nil {
		return fmt.Errorf("--data: %w", err)
	}
	custom := make(map[string]any, len(callCustom))
	for _, kv := range callCustom {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("--set %q: want key=value", kv)
		}
		custom[k] = v
	}

	url := cfg.Client.URL
	if callURL != "" {
		url = callURL
	}
	codecType, err := codec.ParseType(cfg.Client.Codec)
	if err != nil {
		return err
	}
	opts := client.Options{
		URL:         url,
		Codec:       codec.GetCodec(codecType, cfg.Client.ReviveDates),
		MaxRetries:  cfg.Client.MaxRetries,
		Backoff:     connection.Backoff{Initial: cfg.Client.RetryInterval.Duration, Multiplier: 1},
		CustomData:  custom,
		Logger:      &logger,
		DialTimeout: 5 * time.Second,
	}
	if strings.HasPrefix(url, "tcp://") {
		opts.URL = strings.TrimPrefix(url, "tcp://")
		opts.Dialer = &transport.StreamDialer{Timeout: 5 * time.Second, CodecType: byte(codecType)}
	}
	if callDiscover {
		if len(cfg.Etcd.Endpoints) == 0 {
			return fmt.Errorf("--discover needs etcd.endpoints")
		}
		dir, err := discovery.NewEtcdDirectory(cfg.Etcd.Endpoints, cfg.Etcd.DialTimeout.Duration)
		if err != nil {
			return err
		}
		defer dir.Close()
		lb, err := loadbalance.New(cfg.Client.Balancer)
		if err != nil {
			return err
		}
		opts.Directory, opts.Service, opts.Balancer = dir, cfg.Server.Service, lb
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
	defer cancel()

	cl := client.New(opts)
	defer func() {
		closeCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = cl.Close(closeCtx)
	}()
	if _, err := cl.Register(callPreset); err != nil {
		return err
	}
	conn, err := cl.ConnectAs(ctx, cfg.Client.Name, opts.URL)
	if err != nil {
		return err
	}
	if err := cl.Ready(ctx, conn); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	reply, err := cl.Launch(ctx, callPreset, content)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(reply, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
