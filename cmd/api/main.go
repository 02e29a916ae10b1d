package main

import (
	"context"
	"log"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"google.golang.org/api/option"

	fbapp "firebase.google.com/go/v4"

	"pasarbekas/internal/adapter/api"
	"pasarbekas/internal/adapter/api/handler"
	apimiddleware "pasarbekas/internal/adapter/api/middleware"
	"pasarbekas/internal/adapter/api/router"
	"pasarbekas/internal/adapter/repository"
	"pasarbekas/internal/infrastructure/firebase"
	"pasarbekas/internal/infrastructure/realtime"
	"pasarbekas/internal/infrastructure/websocket"
	"pasarbekas/internal/usecase"
	"pasarbekas/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	var opts []option.ClientOption

	// Try to get service account from environment variable (for production)
	serviceAccountJSON := os.Getenv("FIREBASE_SERVICE_ACCOUNT_JSON")
	if serviceAccountJSON != "" {
		log.Printf("Using Firebase service account from environment variable")
		opts = append(opts, option.WithCredentialsJSON([]byte(serviceAccountJSON)))
	} else if serviceAccountPath := os.Getenv("FIREBASE_SERVICE_ACCOUNT_PATH"); serviceAccountPath != "" {
		if _, err := os.Stat(serviceAccountPath); os.IsNotExist(err) {
			log.Fatalf("Service account file does not exist: %s", serviceAccountPath)
		}
		log.Printf("Using Firebase service account from file: %s", serviceAccountPath)
		opts = append(opts, option.WithCredentialsFile(serviceAccountPath))
	} else {
		log.Printf("Using application default credentials")
	}

	firebaseApp, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, opts...)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase: %v", err)
	}

	authClient, err := firebaseApp.Auth(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase Auth: %v", err)
	}

	firestoreClient, err := firestore.NewClient(ctx, cfg.FirebaseProject, opts...)
	if err != nil {
		log.Fatalf("Failed to create Firestore client: %v", err)
	}
	defer firestoreClient.Close()

	roomRepo := repository.NewFirestoreRoomRepository(firestoreClient)
	messageRepo := repository.NewFirestoreMessageRepository(firestoreClient)
	listingRepo := repository.NewFirestoreListingRepository(firestoreClient)

	firebaseAuthClient := firebase.NewFirebaseAuthClient(authClient, cfg.FirebaseApiKey)

	wsManager := websocket.NewManager()
	wsManager.Start(ctx)

	chatUseCase := usecase.NewChatUseCase(roomRepo, messageRepo, listingRepo)

	// Each WebSocket connection gets a session wired to its own change feed.
	newSession := func(userID string) *usecase.ChatSession {
		feed := realtime.NewFeed(firestoreClient, userID)
		return usecase.NewChatSession(userID, chatUseCase, feed)
	}

	handler.Setup(chatUseCase, wsManager, newSession, firebaseAuthClient, cfg)

	e := echo.New()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(firebaseAuthClient, cfg)

	router.Setup(e, authMiddleware, cfg.Environment)

	log.Printf("Starting server on port %s...", cfg.ServerPort)
	e.Logger.Fatal(e.Start(":" + cfg.ServerPort))
}
