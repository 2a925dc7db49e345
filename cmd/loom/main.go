package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"github.com/storyloom/loom/config"
	"github.com/storyloom/loom/cost"
	"github.com/storyloom/loom/decode"
	"github.com/storyloom/loom/engine"
	"github.com/storyloom/loom/llm/gemini"
	"github.com/storyloom/loom/llm/openaicompat"
	"github.com/storyloom/loom/promptcache"
	"github.com/storyloom/loom/session"
	"github.com/storyloom/loom/slogger"
)

var (
	errorStyle   = color.New(color.FgRed)
	storyStyle   = color.New(color.FgWhite)
	thoughtStyle = color.New(color.FgHiBlack)
	statusStyle  = color.New(color.FgCyan)
)

const previewWidth = 78

func fatal(msg string, args ...interface{}) {
	fmt.Printf(errorStyle.Sprint(msg)+"\n", args...)
	os.Exit(1)
}

func main() {
	var configPath, dbPath, sessionID, logLevel string
	flag.StringVar(&configPath, "config", "loom.yaml", "Settings file (YAML or JSON)")
	flag.StringVar(&dbPath, "db", "loom.db", "Session database path")
	flag.StringVar(&sessionID, "session", "default", "Session ID")
	flag.StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flag.Parse()

	settings, err := config.ParseFile(configPath)
	if err != nil {
		fatal("settings: %s", err)
	}
	logger := slogger.New(slogger.LevelFromString(logLevel))

	store, err := session.OpenSQLiteStore(dbPath, sessionID)
	if err != nil {
		fatal("session store: %s", err)
	}
	defer store.Close()

	provider, pricingFor, err := buildProvider(settings)
	if err != nil {
		fatal("provider: %s", err)
	}

	eng, err := engine.New(engine.Options{
		Provider:   provider,
		Store:      store,
		Settings:   settings,
		Logger:     logger,
		PricingFor: pricingFor,
		OnThought: func(fragment string) {
			thoughtStyle.Print(fragment)
		},
		OnPreview: func(p decode.Preview) {
			line := runewidth.Truncate(strings.ReplaceAll(p.Story, "\n", " "), previewWidth, "…")
			fmt.Printf("\r%s", statusStyle.Sprint(line))
		},
	})
	if err != nil {
		fatal("engine: %s", err)
	}

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		fatal("start: %s", err)
	}
	defer func() {
		if err := eng.Close(ctx); err != nil {
			errorStyle.Printf("shutdown: %s\n", err)
		}
	}()

	statusStyle.Printf("loom ready: %s/%s, %d turns restored, cache %s\n",
		settings.Provider, settings.Model, len(eng.Turns()), eng.CacheState())

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := command(ctx, eng, line); quit {
				break
			}
			continue
		}
		runTurn(ctx, eng, line)
	}
	if err := scanner.Err(); err != nil {
		fatal("stdin: %s", err)
	}
}

func runTurn(ctx context.Context, eng *engine.Engine, input string) {
	turn, err := eng.RunTurn(ctx, input)
	fmt.Print("\r")
	switch {
	case errors.Is(err, promptcache.ErrSessionExpired):
		errorStyle.Println("session expired: restore the knowledge files, then run /reload")
		return
	case errors.Is(err, engine.ErrProviderTransport):
		errorStyle.Printf("network error, turn kept for retry: %s\n", err)
		return
	case err != nil:
		errorStyle.Printf("turn failed: %s\n", err)
		return
	}
	fmt.Println()
	storyStyle.Println(turn.Text)
	if turn.Usage != nil {
		u := *turn.Usage
		statusStyle.Printf("[%d prompt / %d cached / %d out | session $%.4f]\n",
			u.PromptTokens, u.CachedTokens, u.OutputTokens, eng.TotalCost())
	}
}

func command(ctx context.Context, eng *engine.Engine, line string) (quit bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/cost":
		u := eng.Totals()
		statusStyle.Printf("tokens: %d prompt, %d cached, %d output\n",
			u.PromptTokens, u.CachedTokens, u.OutputTokens)
		statusStyle.Printf("spend: $%.4f\n", eng.TotalCost())
	case "/cache":
		statusStyle.Printf("cache: %s\n", eng.CacheState())
	case "/rewind":
		n := 2
		if len(fields) > 1 {
			v, err := strconv.Atoi(fields[1])
			if err != nil || v < 1 {
				errorStyle.Println("usage: /rewind [n]")
				return false
			}
			n = v
		}
		removed := eng.Rewind(ctx, n)
		statusStyle.Printf("rewound %d turn(s)\n", len(removed))
	case "/reload":
		if err := eng.ReloadKnowledge(); err != nil {
			errorStyle.Printf("reload: %s\n", err)
			return false
		}
		statusStyle.Println("knowledge reloaded, cache will revalidate on the next turn")
	default:
		errorStyle.Printf("unknown command: %s\n", fields[0])
	}
	return false
}

func buildProvider(settings *config.Settings) (engine.Provider, func(string) cost.Pricing, error) {
	switch settings.Provider {
	case "gemini":
		return gemini.New(gemini.WithModel(settings.Model)), gemini.PricingFor, nil
	case "openai":
		return openaicompat.New(openaicompat.WithModel(settings.Model)), openaicompat.PricingFor, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider %q", settings.Provider)
	}
}
