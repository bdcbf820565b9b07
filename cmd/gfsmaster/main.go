// Command gfsmaster starts one node of a replicated file store master
// group: gfsmaster <port> [peer_host peer_port]...
//
// <port> is this node's own request-serving port; its raft transport
// listens on a dedicated port derived from it (port+1000), per SPEC_FULL
// §4.1. Each peer_host/peer_port pair names another node's request
// address; their raft addresses and node ids are derived the same
// way. Passing no peers bootstraps a fresh single-node cluster.
//
// The statically configured chunk-server universe (invariant I3) is
// supplied with one or more repeated --chunk-server flags; any
// heartbeat from an address outside that set is ignored.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/meghanachitturi5678/gfsmaster/internal/config"
	"github.com/meghanachitturi5678/gfsmaster/internal/consensus"
	"github.com/meghanachitturi5678/gfsmaster/internal/master"
	"github.com/meghanachitturi5678/gfsmaster/internal/metrics"
)

// raftPortOffset is the fixed distance between a node's request port
// and its raft transport port.
const raftPortOffset = 1000

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Defaults()
	var logLevel string

	cmd := &cobra.Command{
		Use:   "gfsmaster <port> [peer_host peer_port]...",
		Short: "Run one node of a distributed file store master group",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("requires a port argument")
			}
			if (len(args)-1)%2 != 0 {
				return fmt.Errorf("peers must be given as host port pairs")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.New()
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", logLevel, err)
			}
			logger.SetLevel(level)

			port, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", args[0], err)
			}
			self := nodeAddr("localhost", port)
			cfg.RaftBindAddr = nodeAddr("localhost", port+raftPortOffset)

			bootstrap := []consensus.Peer{{ID: self, Addr: cfg.RaftBindAddr}}
			for i := 1; i < len(args); i += 2 {
				peerHost := args[i]
				peerPort, err := strconv.Atoi(args[i+1])
				if err != nil {
					return fmt.Errorf("invalid peer port %q: %w", args[i+1], err)
				}
				peerID := nodeAddr(peerHost, peerPort)
				bootstrap = append(bootstrap, consensus.Peer{
					ID:   peerID,
					Addr: nodeAddr(peerHost, peerPort+raftPortOffset),
				})
			}

			if len(cfg.ChunkServers) == 0 {
				logger.Warn("gfsmaster: no --chunk-server addresses configured; heartbeats from any address will be accepted")
			}

			collectors := metrics.New(prometheus.DefaultRegisterer)

			srv, err := master.New(cfg, self, self, bootstrap, collectors, logger.WithField("node", self))
			if err != nil {
				return fmt.Errorf("start master: %w", err)
			}
			if err := srv.Start(); err != nil {
				return fmt.Errorf("start frontend: %w", err)
			}
			logger.WithFields(logrus.Fields{
				"request_addr": self,
				"raft_addr":    cfg.RaftBindAddr,
			}).Info("gfsmaster: node started")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logger.Info("gfsmaster: shutting down")
			return srv.Close()
		},
	}

	cfg.BindFlags(cmd.Flags())
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	return cmd
}

func nodeAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
