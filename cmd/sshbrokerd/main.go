// Command sshbrokerd is the SSH Operations Broker entry point: it wires every
// core component together and serves tool calls over standard input/output.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	_ "github.com/joho/godotenv/autoload"

	"github.com/opsctl/sshbroker/internal/config"
	"github.com/opsctl/sshbroker/internal/credential"
	"github.com/opsctl/sshbroker/internal/dispatcher"
	"github.com/opsctl/sshbroker/internal/dockercontext"
	"github.com/opsctl/sshbroker/internal/exec"
	"github.com/opsctl/sshbroker/internal/logger"
	"github.com/opsctl/sshbroker/internal/ptysession"
	"github.com/opsctl/sshbroker/internal/registry"
	"github.com/opsctl/sshbroker/internal/singleton"
	"github.com/opsctl/sshbroker/internal/store"
	"github.com/opsctl/sshbroker/internal/transfer"
	"github.com/opsctl/sshbroker/internal/tunnel"
	"github.com/opsctl/sshbroker/pkg/dockerbridge"
)

func main() {
	closeLogger := logger.Init()
	defer closeLogger()

	cfg, err := config.InitConfig()
	if err != nil {
		zap.L().Fatal("failed to load config", zap.Error(err))
	}

	guard, err := singleton.Acquire("", cfg.DataDir)
	if err != nil {
		zap.L().Fatal("failed to acquire singleton lock", zap.Error(err))
	}
	defer guard.Release()

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		zap.L().Fatal("failed to open document store", zap.Error(err))
	}
	defer db.Close()

	creds := credential.Open(db, cfg)

	reg := registry.New(db, creds)
	dockerCtx := dockercontext.New(
		time.Duration(cfg.ContainerListCacheSeconds)*time.Second,
		time.Duration(cfg.ContainerSessionTTLMinutes)*time.Minute,
	)
	bridge := dockerbridge.NewPool()
	executor := exec.New(reg, dockerCtx, creds, bridge, cfg.OutputTruncateChars)
	transfers := transfer.New(reg, time.Duration(cfg.TransferRetentionHours)*time.Hour)
	tunnels := tunnel.New(reg)
	terminals := ptysession.New(reg, creds, time.Duration(cfg.TerminalIdleTimeoutHours)*time.Hour)

	stop := make(chan struct{})
	dockerCtx.StartSweeper(time.Minute, stop)
	transfers.StartSweeper(time.Duration(cfg.TransferSweepIntervalMinutes)*time.Minute, stop)
	terminals.StartSweeper(time.Hour, stop)

	// Tunnels and PTY sessions do not survive a transport loss (spec.md
	// §4.H): when the registry reports a keepalive failure or an exec-channel
	// error, tear down everything hanging off that connection's dead client,
	// the same cleanup an explicit disconnect/deleteConnection performs.
	transportLost, unsubscribeTransportLost := reg.Events()
	go func() {
		for ev := range transportLost {
			tunnels.CloseAllForConnection(ev.ConnectionID)
			terminals.CloseAllForConnection(ev.ConnectionID)
			executor.StopBackground(ev.ConnectionID)
			bridge.Evict(ev.ConnectionID)
		}
	}()
	defer unsubscribeTransportLost()

	mcpServer := dispatcher.New(dispatcher.Deps{
		Registry:  reg,
		Executor:  executor,
		Transfers: transfers,
		Tunnels:   tunnels,
		Terminals: terminals,
		DockerCtx: dockerCtx,
		Bridge:    bridge,
		Config:    cfg,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		zap.L().Info("shutting down")
		close(stop)
		guard.Release()
		os.Exit(0)
	}()

	zap.L().Info("sshbrokerd ready", zap.String("dataDir", cfg.DataDir))
	if err := dispatcher.Serve(mcpServer); err != nil {
		zap.L().Fatal("dispatcher exited with error", zap.Error(err))
	}
}
