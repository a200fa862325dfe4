// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/cubefs/cubefs/blobstore/common/config"
	"github.com/cubefs/cubefs/blobstore/common/profile"
	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/cubefs/blobstore/util/log"
	_ "github.com/cubefs/cubefs/blobstore/util/version"
	"golang.org/x/sys/unix"

	"github.com/cubefs/objmeta/server"
	"github.com/cubefs/objmeta/util"
)

const (
	defaultDataDir  = "./run/data"
	defaultShmDir   = "/dev/shm"
	openFilesTarget = 1024000
)

// Config service config
type Config struct {
	server.Config

	BindAddr      string    `json:"bind_addr"`
	HttpBindPort  uint32    `json:"http_bind_port"`
	GrpcBindPort  uint32    `json:"grpc_bind_port"`
	MaxProcessors int       `json:"max_processors"`
	LogLevel      log.Level `json:"log_level"`
}

func main() {
	config.Init("f", "", "server.json")

	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		log.Fatal(errors.Detail(err))
	}

	initConfig(cfg)
	registerLogLevel()
	modifyOpenFiles()
	log.SetOutputLevel(cfg.LogLevel)

	span, ctx := trace.StartSpanFromContext(context.Background(), "")
	startServer := server.NewServer(ctx, &cfg.Config)
	// start http server
	httpServer := server.NewHttpServer(startServer)
	httpServer.Serve(cfg.BindAddr + ":" + strconv.Itoa(int(cfg.HttpBindPort)))

	// start grpc server
	grpcServer := server.NewRPCServer(startServer)
	grpcServer.Serve(cfg.BindAddr + ":" + strconv.Itoa(int(cfg.GrpcBindPort)))

	// wait for signal
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	sig := <-ch
	span.Infof("receive signal %s, stopping", sig)

	// stop all server
	grpcServer.Stop()
	httpServer.Stop()
	if err := startServer.Close(ctx); err != nil {
		log.Errorf("close server failed: %s", errors.Detail(err))
	}
}

func registerLogLevel() {
	logLevelPath, logLevelHandler := log.ChangeDefaultLevelHandler()
	profile.HandleFunc(http.MethodPost, logLevelPath, func(c *rpc.Context) {
		logLevelHandler.ServeHTTP(c.Writer, c.Request)
	})
	profile.HandleFunc(http.MethodGet, logLevelPath, func(c *rpc.Context) {
		logLevelHandler.ServeHTTP(c.Writer, c.Request)
	})
}

func modifyOpenFiles() {
	var rLimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		log.Fatalf("getting rlimit failed: %s", err)
	}
	log.Info("system limit: ", rLimit)

	if rLimit.Cur >= openFilesTarget/10 && rLimit.Max >= openFilesTarget/10 {
		return
	}

	rLimit.Cur = openFilesTarget
	rLimit.Max = openFilesTarget
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		log.Fatalf("setting rlimit failed: %s", err)
	}
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		log.Fatalf("getting rlimit failed: %s", err)
	}
	log.Info("system limit: ", rLimit)
}

func initConfig(cfg *Config) {
	ssCfg := &cfg.ShardServerConfig
	if ssCfg.DataDir == "" {
		ssCfg.DataDir = defaultDataDir
	}
	if ssCfg.ShmDir == "" {
		ssCfg.ShmDir = defaultShmDir
	}
	if ssCfg.CheckpointPath == "" {
		ssCfg.CheckpointPath = ssCfg.DataDir + "/checkpoint_" + strconv.Itoa(int(ssCfg.Rank))
	}
	if cfg.MaxProcessors > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcessors)
	}

	if cfg.BindAddr == "" {
		var err error
		cfg.BindAddr, err = util.GetLocalIp()
		if err != nil {
			log.Fatalf("can't get local ip address, please set bind_addr in config")
		}
	}
	log.Infof("shard %d of %d binds %s", ssCfg.Rank, ssCfg.ShardNum, cfg.BindAddr)
}
