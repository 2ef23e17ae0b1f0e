package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"github.com/fitlobby/fitlobby/internal/app"
	"github.com/fitlobby/fitlobby/internal/profile"
	"github.com/fitlobby/fitlobby/internal/resume"
)

func main() {
	profileFlag := flag.String("profile", "default", "profile name under ~/.fitlobby")
	createFlag := flag.Bool("create", false, "create a new lobby instead of resuming")
	groupFlag := flag.String("group", "", "group id for --create (overrides config)")
	joinFlag := flag.String("join", "", "session id or fitlobby:// link to join")
	historyFlag := flag.Bool("history", false, "print past lobbies and exit")
	flag.Parse()

	// A missing .env is fine; real config comes from config.toml and env.
	_ = godotenv.Load()

	if *historyFlag {
		if err := printHistory(*profileFlag); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fxApp := fx.New(
		app.Module(app.Params{
			Profile: *profileFlag,
			Create:  *createFlag,
			Group:   *groupFlag,
			Join:    parseJoinTarget(*joinFlag),
		}),
	)

	fxApp.Run()
}

// parseJoinTarget accepts both a bare session id and the shareable
// fitlobby://join/<id> deep link.
func parseJoinTarget(arg string) string {
	return strings.TrimPrefix(arg, "fitlobby://join/")
}

func printHistory(profileName string) error {
	db, err := resume.Open(profile.DBPath(profileName))
	if err != nil {
		return err
	}
	defer db.Close()
	if _, err := db.Migrate(); err != nil {
		return err
	}

	entries, err := db.History(20)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no lobby history")
		return nil
	}

	for _, e := range entries {
		joined := time.UnixMilli(e.JoinedAt).Format("2006-01-02 15:04")
		left := "still active"
		if e.LeftAt > 0 {
			left = time.UnixMilli(e.LeftAt).Format("2006-01-02 15:04")
		}
		fmt.Printf("%s  group=%s  joined=%s  left=%s\n", e.SessionID, e.GroupID, joined, left)
	}
	return nil
}
