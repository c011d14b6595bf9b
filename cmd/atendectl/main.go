package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/atende-io/atende/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "health":
		cmdHealth()
	case "login":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: atendectl login <email>")
			os.Exit(1)
		}
		cmdLogin(os.Args[2])
	case "cases":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: atendectl cases <list|show|open|close>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdCasesList(os.Args[3:])
		case "show":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: atendectl cases show <id>")
				os.Exit(1)
			}
			cmdCasesShow(os.Args[3])
		case "open":
			cmdCasesOpen(os.Args[3:])
		case "close":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: atendectl cases close <id>")
				os.Exit(1)
			}
			cmdCasesClose(os.Args[3])
		default:
			fmt.Fprintf(os.Stderr, "unknown cases subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "logs":
		cmdLogs(os.Args[2:])
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: atendectl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func cmdHealth() {
	body, err := apiDo("GET", "/api/health", "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdLogin(email string) {
	payload := fmt.Sprintf(`{"email":%q}`, email)
	body, err := apiDo("POST", "/api/login", payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var resp struct {
		Token string `json:"token"`
	}
	json.Unmarshal(body, &resp)
	fmt.Println(resp.Token)
}

func cmdCasesList(args []string) {
	fs := flag.NewFlagSet("cases list", flag.ExitOnError)
	closed := fs.String("closed", "", "Filter by closure: true or false")
	fs.Parse(args)

	path := "/api/cases"
	if *closed != "" {
		path += "?closed=" + *closed
	}
	body, err := apiDo("GET", path, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var cases []map[string]any
	json.Unmarshal(body, &cases)
	for _, c := range cases {
		state, _ := c["state"].(map[string]any)
		status := "open"
		if state != nil && state["closed"] == true {
			status = "closed"
		}
		fmt.Printf("%-6v %-8s %s\n", c["display_seq"], status, c["title"])
	}
}

func cmdCasesShow(id string) {
	body, err := apiDo("GET", "/api/cases/"+id, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdCasesOpen(args []string) {
	fs := flag.NewFlagSet("cases open", flag.ExitOnError)
	title := fs.String("title", "", "Case title")
	description := fs.String("description", "", "Case description")
	fs.Parse(args)

	payload, _ := json.Marshal(map[string]string{
		"title":       *title,
		"description": *description,
	})
	body, err := apiDo("POST", "/api/cases", string(payload))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdCasesClose(id string) {
	body, err := apiDo("POST", "/api/cases/"+id+"/close", "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	level := fs.String("level", "", "Minimum level (info|warn|error)")
	limit := fs.Int("limit", 100, "Max entries")
	fs.Parse(args)

	path := fmt.Sprintf("/api/logs?limit=%d", *limit)
	if *level != "" {
		path += "&level=" + *level
	}
	body, err := apiDo("GET", path, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var recs []map[string]any
	json.Unmarshal(body, &recs)
	for _, r := range recs {
		fmt.Printf("%s %-5s %s\n", r["at"], r["level"], r["msg"])
	}
}

func cmdConfigValidate(path string) {
	if _, err := config.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- Helpers ---

func apiDo(method, path, body string) ([]byte, error) {
	base := envOr("ATENDE_API_URL", "http://localhost:8080")

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, base+path, reader)
	if err != nil {
		return nil, err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := os.Getenv("ATENDE_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(out))
	}
	return out, nil
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println("atendectl — support platform CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  health                 Check daemon health")
	fmt.Println("  login <email>          Obtain a session token")
	fmt.Println("  cases list             List cases (--closed true|false)")
	fmt.Println("  cases show <id>        Show full case state")
	fmt.Println("  cases open             Open a case (--title, --description)")
	fmt.Println("  cases close <id>       Close a case")
	fmt.Println("  logs                   Tail daemon logs (--level, --limit)")
	fmt.Println("  config validate <p>    Validate a config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  ATENDE_API_URL   Daemon URL (default: http://localhost:8080)")
	fmt.Println("  ATENDE_TOKEN     Session token from 'atendectl login'")
}
