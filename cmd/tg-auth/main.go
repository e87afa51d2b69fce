package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/glebarez/sqlite"
	"github.com/gotd/td/session"
	"github.com/gotd/td/session/tdesktop"
	tdclient "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/gotd/td/tg"
	"github.com/joho/godotenv"
	"github.com/mdp/qrterminal/v3"
	"gorm.io/gorm"

	"github.com/blockedby/tg-forwarder/internal/telegram"
)

const tempSessionFile = "tg_session"

func main() {
	_ = godotenv.Load()

	fmt.Println("=== telegram auth tool ===")
	fmt.Println("generates the TG_SESSION_STRING the forwarder runs with")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	tdataPath := telegramDesktopPath()
	accounts, tdataErr := tdesktop.Read(tdataPath, nil)

	fmt.Println("choose authentication method:")
	if tdataErr == nil && len(accounts) > 0 {
		fmt.Printf("  1. use telegram desktop session (%d found at %s)\n", len(accounts), tdataPath)
	} else {
		fmt.Println("  1. use telegram desktop session (none found)")
	}
	fmt.Println("  2. authenticate with phone number (sms/code)")
	fmt.Println("  3. scan a QR code from the telegram app")
	fmt.Print("\nenter choice [2]: ")

	choice, _ := reader.ReadString('\n')
	choice = strings.TrimSpace(choice)

	apiID, apiHash := apiCredentials(reader)

	var client *gotgproto.Client
	var err error
	switch choice {
	case "1":
		if tdataErr != nil || len(accounts) == 0 {
			fmt.Println("error: no telegram desktop session available")
			os.Exit(1)
		}
		client, err = authWithTData(apiID, apiHash, accounts, reader)
	case "3":
		client, err = authWithQR(apiID, apiHash)
	default:
		client, err = authWithPhone(apiID, apiHash, reader)
	}
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	defer client.Stop()

	sessionString, err := client.ExportStringSession()
	if err != nil {
		fmt.Printf("error exporting session: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nauthentication successful!")
	fmt.Printf("logged in as: @%s\n", client.Self.Username)
	fmt.Println("\nyour session string:")
	fmt.Println("---")
	fmt.Println(sessionString)
	fmt.Println("---")
	fmt.Println("\nadd this to your .env file as TG_SESSION_STRING")
	fmt.Println("keep it secret: it provides full access to your telegram account")
}

func telegramDesktopPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Telegram Desktop", "tdata")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Telegram Desktop", "tdata")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "TelegramDesktop", "tdata")
	}
}

func apiCredentials(reader *bufio.Reader) (int, string) {
	apiIDStr := os.Getenv("TG_API_ID")
	apiHash := os.Getenv("TG_API_HASH")

	if apiIDStr == "" {
		fmt.Print("enter your api_id (from https://my.telegram.org): ")
		apiIDStr, _ = reader.ReadString('\n')
		apiIDStr = strings.TrimSpace(apiIDStr)
	}
	if apiHash == "" {
		fmt.Print("enter your api_hash: ")
		apiHash, _ = reader.ReadString('\n')
		apiHash = strings.TrimSpace(apiHash)
	}

	apiID, err := strconv.Atoi(apiIDStr)
	if err != nil {
		fmt.Printf("error: invalid api_id: %v\n", err)
		os.Exit(1)
	}
	return apiID, apiHash
}

func authWithTData(apiID int, apiHash string, accounts []tdesktop.Account, reader *bufio.Reader) (*gotgproto.Client, error) {
	selected := accounts[0]
	if len(accounts) > 1 {
		fmt.Printf("\nfound %d telegram desktop accounts\n", len(accounts))
		fmt.Print("select account number [1]: ")
		choice, _ := reader.ReadString('\n')
		choice = strings.TrimSpace(choice)
		if n, err := strconv.Atoi(choice); err == nil && n >= 1 && n <= len(accounts) {
			selected = accounts[n-1]
		}
	}

	fmt.Println("\nauthenticating with telegram desktop session...")
	return gotgproto.NewClient(
		apiID,
		apiHash,
		gotgproto.ClientTypePhone(""),
		&gotgproto.ClientOpts{
			Session:          sessionMaker.TdataSession(selected).Name("tdata_session"),
			DisableCopyright: true,
		},
	)
}

func authWithPhone(apiID int, apiHash string, reader *bufio.Reader) (*gotgproto.Client, error) {
	fmt.Print("enter your phone number (with country code, e.g. +1234567890): ")
	phone, _ := reader.ReadString('\n')
	phone = strings.TrimSpace(phone)

	fmt.Println("\nauthenticating... (check telegram for the code)")
	client, err := gotgproto.NewClient(
		apiID,
		apiHash,
		gotgproto.ClientTypePhone(phone),
		&gotgproto.ClientOpts{
			Session:          sessionMaker.SqlSession(sqlite.Open(tempSessionFile)),
			DisableCopyright: true,
		},
	)
	if err == nil {
		fmt.Printf("\nnote: %s.db holds temporary session storage.\n", tempSessionFile)
		fmt.Println("you can delete it after copying the session string.")
	}
	return client, err
}

// authWithQR runs the QR login flow with a raw gotd client, then seeds a
// sqlite session store so gotgproto can export the session string.
func authWithQR(apiID int, apiHash string) (*gotgproto.Client, error) {
	memStorage := &session.StorageMemory{}
	dispatcher := tg.NewUpdateDispatcher()
	raw := tdclient.NewClient(apiID, apiHash, tdclient.Options{
		SessionStorage: memStorage,
		UpdateHandler:  &dispatcher,
	})

	var sessionData *session.Data
	ctx := context.Background()
	err := raw.Run(ctx, func(ctx context.Context) error {
		qr := raw.QR()
		loggedIn := qrlogin.OnLoginToken(&dispatcher)

		_, authErr := qr.Auth(ctx, loggedIn, func(_ context.Context, token qrlogin.Token) error {
			fmt.Println("\nscan this with telegram (settings > devices > link desktop device):")
			qrterminal.GenerateHalfBlock(token.URL(), qrterminal.L, os.Stdout)
			return nil
		})
		if authErr != nil {
			return authErr
		}

		loader := session.Loader{Storage: memStorage}
		var loadErr error
		sessionData, loadErr = loader.Load(ctx)
		return loadErr
	})
	if err != nil {
		return nil, fmt.Errorf("QR auth flow failed: %w", err)
	}
	if sessionData == nil {
		return nil, fmt.Errorf("no session data after QR auth")
	}

	sess, err := telegram.ConvertSession(sessionData)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(sqlite.Open(tempSessionFile), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	if err := db.AutoMigrate(sess); err != nil {
		return nil, fmt.Errorf("prepare session store: %w", err)
	}
	if err := db.Save(sess).Error; err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	return gotgproto.NewClient(
		apiID,
		apiHash,
		gotgproto.ClientTypePhone(""),
		&gotgproto.ClientOpts{
			Session:          sessionMaker.SqlSession(sqlite.Open(tempSessionFile)),
			DisableCopyright: true,
		},
	)
}
