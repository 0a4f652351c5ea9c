package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medishare/global"
	"medishare/logger"
	midsec "medishare/middleware/security"
	"medishare/module/chat/api"
	"medishare/module/chat/store"
	"medishare/service/chat"
	"medishare/service/chat/handlers"
	"medishare/service/mgo"
	rds "medishare/service/storage/redis"
	"medishare/tools/security"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := global.Load()
	if cfg.JWTSecret == "" {
		logger.Error("CHAT_JWT_SECRET is required")
		os.Exit(1)
	}
	jwtOpts := security.DefaultOptions([]byte(cfg.JWTSecret))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := mgo.Init(ctx, mgo.Config{URI: cfg.MongoURI, Database: cfg.MongoDatabase}); err != nil {
		logger.Errorf("mongo init: %v", err)
		os.Exit(1)
	}
	cancel()

	presenceTTL := time.Duration(0)
	if err := rds.Init(rds.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}); err != nil {
		logger.Warnf("redis init: %v (presence disabled)", err)
	} else {
		presenceTTL = 2 * time.Minute
	}

	roomStore := store.NewMongoStore(mgo.GetDB())
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	if err := roomStore.EnsureIndexes(ctx); err != nil {
		logger.Errorf("ensure indexes: %v", err)
		os.Exit(1)
	}
	cancel()

	server := chat.NewServer(chat.ServerConf{
		NodeID:      cfg.NodeID,
		JWT:         jwtOpts,
		PresenceTTL: presenceTTL,
	}, roomStore)
	handlers.RegisterAll(server)

	if cfg.NatsURL != "" {
		bridge, err := chat.NewBridge(cfg.NatsURL, cfg.NodeID, server)
		if err != nil {
			logger.Errorf("nats bridge: %v", err)
			os.Exit(1)
		}
		server.AttachBridge(bridge)
		logger.Infof("cross-node bridge enabled url=%s", cfg.NatsURL)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/ws", server.HandleWS)
	api.New(roomStore).Register(r, midsec.DefaultOptions(jwtOpts))

	go func() {
		logger.Infof("chat gateway node=%s listening on %s", cfg.NodeID, cfg.ListenAddr)
		if err := r.Run(cfg.ListenAddr); err != nil {
			logger.Errorf("http server: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	server.Close()
	_ = rds.Close()
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	_ = mgo.Close(ctx)
	cancel()
}
