package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"paybook.org/internal/auth"
	"paybook.org/internal/events"
	"paybook.org/internal/httpapi"
	"paybook.org/internal/ledger"
	"paybook.org/internal/obs"
	"paybook.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "none"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	addr := os.Getenv("PAYBOOK_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	reconciler := ledger.NewReconciler()
	if raw := os.Getenv("PAYBOOK_ALLOW_OVERPAYMENT"); raw != "" {
		allow, err := strconv.ParseBool(raw)
		if err != nil {
			log.Fatalf("PAYBOOK_ALLOW_OVERPAYMENT: %v", err)
		}
		reconciler.AllowOverpayment = allow
	}

	// Postgres when a DSN is set; in-memory otherwise. /readyz pings the DB.
	var (
		svc   ledger.Service
		probe httpapi.ReadyProbe
	)
	if dsn := os.Getenv("PAYBOOK_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		store.SetReconciler(reconciler)
		svc = store
		probe = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		svc = ledger.NewInMemoryWith(reconciler)
	}

	// Credential login backs onto Postgres users when available, otherwise an
	// in-memory store. An optional bootstrap admin comes from the environment.
	var userStore auth.UserStore
	if pgStore, ok := svc.(*pg.Store); ok {
		userStore = pg.NewUserStore(pgStore.DB())
	} else {
		userStore = auth.NewMemoryStore()
	}
	users, err := auth.NewService(userStore)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	if email := os.Getenv("PAYBOOK_ADMIN_EMAIL"); email != "" {
		password := os.Getenv("PAYBOOK_ADMIN_PASSWORD")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := users.CreateUser(ctx, email, password, []string{"admin"}); err != nil {
			log.Printf("bootstrap admin %s: %v", email, err)
		}
		cancel()
	}

	api := httpapi.New(probe, version, svc, events.New(), users)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting paybook-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// Optional gRPC health endpoint for infra probes.
	var grpcSrv *grpc.Server
	if grpcAddr := os.Getenv("PAYBOOK_GRPC_ADDR"); grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		httpapi.RegisterGRPC(grpcSrv, probe)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
		log.Printf("gRPC health on %s", grpcAddr)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	log.Println("Stopped")
}
