package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/co-de-er123/CrowdAid/internal/chat"
	"github.com/co-de-er123/CrowdAid/internal/config"
	"github.com/co-de-er123/CrowdAid/internal/domain"
	"github.com/co-de-er123/CrowdAid/internal/protocol"
	"github.com/co-de-er123/CrowdAid/internal/rest"
	"github.com/co-de-er123/CrowdAid/internal/security"
	"github.com/co-de-er123/CrowdAid/internal/store/sqlite"
)

func main() {
	email := flag.String("email", "", "account email (overrides CROWDAID_EMAIL)")
	password := flag.String("password", "", "account password (overrides CROWDAID_PASSWORD)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *email == "" {
		*email = cfg.Email
	}
	if *password == "" {
		*password = cfg.Password
	}
	if *email == "" || *password == "" {
		log.Fatal("credentials required: pass -email/-password or set CROWDAID_EMAIL/CROWDAID_PASSWORD")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	api := rest.New(cfg.APIBaseURL, logger)
	auth, err := api.Login(ctx, *email, *password)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}
	identity, err := security.IdentityFromToken(auth.AccessToken)
	if err != nil {
		log.Fatalf("unusable access token: %v", err)
	}
	logger.Info("logged in", "user", auth.User.Name, "user_id", identity.UserID)

	var (
		archive domain.MessageArchive
		cache   domain.ConversationCache
	)
	if cfg.ArchiveDSN != "" {
		db, err := sqlite.Open(cfg.ArchiveDSN)
		if err != nil {
			log.Fatalf("failed to open archive: %v", err)
		}
		defer db.Close()
		if err := sqlite.Migrate(db); err != nil {
			log.Fatalf("failed to migrate archive: %v", err)
		}

		var encryptor *security.Encryptor
		if cfg.ArchivePassphrase != "" {
			// The user id salts the key so two accounts sharing a machine
			// derive different keys from the same passphrase.
			encryptor, err = security.NewEncryptor([]byte(cfg.ArchivePassphrase), []byte(identity.UserID))
			if err != nil {
				log.Fatalf("failed to initialize archive encryption: %v", err)
			}
		}

		repo := sqlite.NewArchiveRepo(db, encryptor)
		convCache := sqlite.NewConversationRepo(db)
		pruneArchive(ctx, repo, convCache, cfg.MaxArchivedPerConversation, logger)
		archive = repo
		cache = convCache
	}

	client, err := chat.NewClient(chat.Config{
		URL:      cfg.WSURL,
		Token:    auth.AccessToken,
		DeviceID: uuid.NewString(),
		Logger:   logger,
		Archive:  archive,
		Cache:    cache,
		OnEvent:  printEvent,
		OnStatusChange: func(st chat.Status) {
			fmt.Printf("* chat %s\n", st)
		},
	})
	if err != nil {
		log.Fatalf("failed to build chat client: %v", err)
	}
	if err := client.Connect(); err != nil {
		logger.Warn("initial connect failed, retrying in background", "error", err)
	}
	defer client.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Println("commands: /conversations, /open <id>, /new <id[,id...]> [message], /history, /quit; anything else sends to the open conversation")
	for {
		select {
		case <-stop:
			fmt.Println("\nshutting down")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line = strings.TrimSpace(line); line == "" {
				continue
			}
			if line == "/quit" {
				return
			}
			handleLine(client, archive, line)
		}
	}
}

func handleLine(client *chat.Client, archive domain.MessageArchive, line string) {
	switch {
	case line == "/conversations":
		convs := client.State().Conversations()
		if len(convs) == 0 {
			fmt.Println("no conversations yet")
			return
		}
		for _, c := range convs {
			marker := " "
			if c.ID == client.State().ActiveConversationID() {
				marker = "*"
			}
			preview := ""
			if c.LastMessage != nil {
				preview = c.LastMessage.Content
			}
			fmt.Printf("%s %s (unread %d) %s\n", marker, c.ID, c.UnreadCount, preview)
		}

	case strings.HasPrefix(line, "/open "):
		id := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
		if !client.SetActiveConversation(id) {
			fmt.Printf("unknown conversation %q\n", id)
		}

	case strings.HasPrefix(line, "/new "):
		args := strings.TrimSpace(strings.TrimPrefix(line, "/new "))
		idsPart, initial, _ := strings.Cut(args, " ")
		ids := strings.Split(idsPart, ",")
		if err := client.CreateConversation(ids, strings.TrimSpace(initial)); err != nil {
			fmt.Printf("create conversation failed: %v\n", err)
		}

	case line == "/history":
		active := client.State().ActiveConversationID()
		if active == "" {
			fmt.Println("no conversation open")
			return
		}
		if archive == nil {
			fmt.Println("archive disabled")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		msgs, err := archive.ListForConversation(ctx, active, 50)
		if err != nil {
			fmt.Printf("history unavailable: %v\n", err)
			return
		}
		for _, m := range msgs {
			fmt.Printf("[%s] %s: %s\n", m.Timestamp.Format("15:04"), m.SenderName, m.Content)
		}

	default:
		if err := client.SendMessage(line); err != nil {
			if chat.IsTransient(err) {
				fmt.Printf("not sent: %v\n", err)
			} else {
				fmt.Printf("send failed: %v\n", err)
			}
		}
	}
}

func printEvent(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.MessageEvent:
		m := e.Message
		fmt.Printf("[%s] %s: %s\n", m.ConversationID, m.SenderName, m.Content)
	case protocol.ConversationsListEvent:
		fmt.Printf("* %d conversation(s) synced\n", len(e.Conversations))
	case protocol.ServerErrorEvent:
		fmt.Printf("! server error: %s\n", e.Message)
	}
}

// pruneArchive trims each cached conversation's archived history down to the
// configured retention limit.
func pruneArchive(ctx context.Context, repo *sqlite.ArchiveRepo, cache *sqlite.ConversationRepo, keep int, logger *slog.Logger) {
	if keep <= 0 {
		return
	}
	convs, err := cache.ListConversations(ctx)
	if err != nil {
		logger.Warn("archive prune skipped", "error", err)
		return
	}
	for _, c := range convs {
		if err := repo.PruneOld(ctx, c.ID, keep); err != nil {
			logger.Warn("archive prune failed", "conversation_id", c.ID, "error", err)
		}
	}
}
