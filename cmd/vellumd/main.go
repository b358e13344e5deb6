package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/filecoin-project/go-jsonrpc"
	"github.com/gorilla/mux"
	logging "github.com/ipfs/go-log/v2"

	"github.com/vellumwallet/vellum/app/back"
	_ "github.com/vellumwallet/vellum/pkg/crypto/ed25519"
	"github.com/vellumwallet/vellum/pkg/repo"
)

var log = logging.Logger("vellumd")

func main() {
	if err := run(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run() error {
	var repoPath string
	flag.StringVar(&repoPath, "repo", defaultRepoPath(), "wallet repo directory")
	flag.Parse()

	// Key enclaves are purged even on an interrupt.
	memguard.CatchInterrupt()
	defer memguard.Purge()

	rp, err := repo.OpenFSRepo(repoPath)
	if err != nil {
		return err
	}
	defer rp.Close() // nolint

	b := back.NewBack(rp)

	rpcServer := jsonrpc.NewServer()
	rpcServer.Register("Vellum", b.API())

	router := mux.NewRouter()
	router.Handle("/rpc/v0", rpcServer)

	srv := &http.Server{
		Addr:    rp.Config().API.Address,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Infow("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func defaultRepoPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vellum"
	}
	return filepath.Join(home, ".vellum")
}
