package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"admitflow/application"
	"admitflow/auth"
	"admitflow/db"
	"admitflow/document"
	"admitflow/timeline"
)

func main() {
	ctx := context.Background()

	connString := os.Getenv("DATABASE_URL")
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	recorder := timeline.NewRecorder()
	outbox := timeline.NewOutbox()

	appRepo := application.NewRepository()
	docRepo := document.NewRepository(pool)

	srv := &server{
		auth:        auth.NewService(auth.NewRepository(pool), jwtSecret),
		crud:        application.NewCRUDService(pool, recorder, outbox),
		steps:       application.NewStepService(pool, appRepo, docRepo, recorder),
		transitions: application.NewTransitionService(pool, appRepo, docRepo, recorder, outbox),
		documents:   document.NewService(pool, docRepo, recorder, outbox),
		timeline:    timeline.NewReader(pool),
	}

	log.Printf("admitflow api listening on %s", addr)
	if err := http.ListenAndServe(addr, srv.router()); err != nil {
		log.Fatalf("http server: %v", err)
	}
}
