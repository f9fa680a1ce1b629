// Package main runs the development backend used to exercise AuthBridge clients
// locally. It is not meant for production use.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AuthBridge/internal/buildinfo"
	"github.com/router-for-me/AuthBridge/internal/config"
	"github.com/router-for-me/AuthBridge/internal/devserver"
	"github.com/router-for-me/AuthBridge/internal/logging"
	log "github.com/sirupsen/logrus"
)

func init() {
	logging.SetupBaseLogger()
}

func main() {
	var (
		addr      string
		usersFile string
		filesDir  string
		accessTTL time.Duration
		hash      string
		debug     bool
		version   bool
	)
	flag.StringVar(&addr, "addr", "127.0.0.1:8787", "Listen address")
	flag.StringVar(&usersFile, "users", "users.yaml", "YAML users file, reloaded on change")
	flag.StringVar(&filesDir, "files", "", "Directory served under /api/files")
	flag.DurationVar(&accessTTL, "access-ttl", 5*time.Minute, "Access token lifetime")
	flag.StringVar(&hash, "hash", "", "Print the bcrypt hash of the given password and exit")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&version, "version", false, "Print version and exit")
	flag.Parse()

	if version {
		fmt.Println(buildinfo.String("AuthBridge devserver"))
		return
	}
	if hash != "" {
		out, err := devserver.HashPassword(hash)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(out)
		return
	}

	logging.SetLogLevel(&config.Config{Debug: debug})
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	srv, err := devserver.New(devserver.Options{
		Addr:      addr,
		UsersFile: usersFile,
		FilesDir:  filesDir,
		AccessTTL: accessTTL,
	})
	if err != nil {
		log.Fatalf("devserver: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err = srv.Run(ctx); err != nil {
		log.Errorf("devserver: %v", err)
		os.Exit(1)
	}
}
