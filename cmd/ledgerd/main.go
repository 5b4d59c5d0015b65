// Command ledgerd runs (or drives) a single node of a private permissioned
// ledger network.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/elBradford/privledge/core"
	"github.com/elBradford/privledge/pkg/config"
)

func main() {
	root := &cobra.Command{Use: "ledgerd", Short: "private permissioned ledger daemon"}
	root.AddCommand(createCmd())
	root.AddCommand(joinCmd())
	root.AddCommand(discoverCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(ledgerCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(debug int) *log.Logger {
	l := log.New()
	l.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if debug > 0 {
		l.SetLevel(log.DebugLevel)
	}
	core.SetCryptoLogger(l)
	core.SetLedgerLogger(l)
	return l
}

// runForeground blocks a now-active controller until SIGINT/SIGTERM,
// running the status/metrics server alongside it, then leaves cleanly.
func runForeground(ctrl *core.Controller, statusAddr string, reg *prometheus.Registry, metrics *core.Metrics, logger *log.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go core.RunMetricsUpdater(ctx, ctrl, metrics, 2*time.Second)

	srv := &http.Server{Addr: statusAddr, Handler: core.NewStatusRouter(ctrl, reg)}
	go func() {
		logger.WithField("addr", statusAddr).Info("ledgerd: status server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Warn("ledgerd: status server stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("ledgerd: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	cancel()
	_ = ctrl.Leave()
}

func createCmd() *cobra.Command {
	var configPath, keyPath string
	var bits int

	cmd := &cobra.Command{
		Use:   "create",
		Short: "found a new ledger and serve it until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, statusAddr, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Debug)

			kp, err := core.GenerateKeyPair(bits)
			if err != nil {
				return fmt.Errorf("generate founder key: %w", err)
			}
			if keyPath != "" {
				if err := os.WriteFile(keyPath, []byte(core.EncodePrivateKeyPEM(kp.Private)), 0o600); err != nil {
					return fmt.Errorf("write key file %s: %w", keyPath, err)
				}
				logger.WithField("path", keyPath).Info("ledgerd: wrote founder private key")
			}

			ctrl := core.NewController(cfg, logger)
			reg := prometheus.NewRegistry()
			metrics := core.NewMetrics(reg)
			ctrl.SetMetrics(metrics)

			if err := ctrl.CreateWithKey(kp.Private); err != nil {
				return fmt.Errorf("create ledger: %w", err)
			}
			logger.WithField("ledger_id", ctrl.Ledger().ID()).Info("ledgerd: founded new ledger")

			runForeground(ctrl, statusAddr, reg, metrics, logger)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&keyPath, "key-out", "founder.key.pem", "where to write the founder's private key (0600)")
	cmd.Flags().IntVar(&bits, "bits", 0, "RSA key size in bits (0 = default 2048)")
	return cmd
}

func discoverCmd() *cobra.Command {
	var ip string
	var port int
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "broadcast DISCOVER on the LAN and print which ledgers answered",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(0)
			ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
			defer cancel()

			result, err := core.Discover(ctx, ip, port, timeout, logger)
			if err != nil {
				return fmt.Errorf("discover: %w", err)
			}
			for ledgerID, endpoints := range result {
				fmt.Printf("%s:\n", ledgerID)
				for ep := range endpoints {
					fmt.Printf("  %s\n", ep.String())
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&ip, "broadcast-ip", "", "broadcast address (default: limited broadcast)")
	cmd.Flags().IntVar(&port, "port", 2525, "UDP port to broadcast DISCOVER on")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "collection window")
	return cmd
}

func joinCmd() *cobra.Command {
	var configPath string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "join <seed-host:port> <expected-ledger-id>",
		Short: "join an existing ledger by contacting a seed node and serve it until interrupted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, statusAddr, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Debug)

			seed, err := parseEndpoint(args[0])
			if err != nil {
				return err
			}
			expected := core.KeyId(args[1])

			ctrl := core.NewController(cfg, logger)
			reg := prometheus.NewRegistry()
			metrics := core.NewMetrics(reg)
			ctrl.SetMetrics(metrics)

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			err = ctrl.Join(ctx, expected, seed)
			cancel()
			if err != nil {
				return fmt.Errorf("join %s: %w", args[0], err)
			}
			logger.WithField("ledger_id", ctrl.Ledger().ID()).Info("ledgerd: joined ledger")

			runForeground(ctrl, statusAddr, reg, metrics, logger)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "join handshake timeout")
	return cmd
}

func statusCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "print the status of a running node's status server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fetchAndPrintJSON(fmt.Sprintf("http://%s/status", addr))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8585", "status server address")
	return cmd
}

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "ledger", Short: "inspect a running node's ledger"}
	cmd.AddCommand(ledgerDumpCmd())
	return cmd
}

func ledgerDumpCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "dump a running node's ledger as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(fmt.Sprintf("http://%s/ledger", addr))
			if err != nil {
				return fmt.Errorf("fetch ledger: %w", err)
			}
			defer resp.Body.Close()

			var blocks []*core.Block
			if err := json.NewDecoder(resp.Body).Decode(&blocks); err != nil {
				return fmt.Errorf("decode ledger response: %w", err)
			}
			out, err := yaml.Marshal(blocks)
			if err != nil {
				return fmt.Errorf("marshal yaml: %w", err)
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8585", "status server address")
	return cmd
}

func fetchAndPrintJSON(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	var v interface{}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseEndpoint(s string) (core.Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return core.Endpoint{}, fmt.Errorf("expected host:port, got %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return core.Endpoint{}, fmt.Errorf("invalid port in %q: %w", s, err)
	}
	return core.Endpoint{IP: host, Port: port}, nil
}
