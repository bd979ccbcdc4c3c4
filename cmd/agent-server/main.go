// Package main Support Agent API Server
//
//	@title			SMB Support Agent API
//	@version		1.0
//	@description	Retrieval-augmented customer support agent for Singapore SMBs
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.email	support@yourcompany.com
//
//	@license.name	Apache 2.0
//	@license.url	http://www.apache.org/licenses/LICENSE-2.0.html
//
//	@host		localhost:8080
//	@BasePath	/
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"support-agent/internal/server"
)

func main() {
	srv, err := server.NewServer()
	if err != nil {
		log.Fatalf("Failed to initialize server: %v", err)
	}

	go func() {
		log.Printf("Support agent listening on %s", srv.HTTP.Addr)
		if err := srv.HTTP.ListenAndServe(); err != nil {
			log.Printf("HTTP server stopped: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
