package banner

import (
	"fmt"

	"github.com/ghhufue/chatrelay/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗██████╗ ███████╗██╗      █████╗ ██╗   ██╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝
██║     ███████║███████║   ██║   ██████╔╝█████╗  ██║     ███████║ ╚████╔╝
██║     ██╔══██║██╔══██║   ██║   ██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝
╚██████╗██║  ██║██║  ██║   ██║   ██║  ██║███████╗███████╗██║  ██║   ██║
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝
`

// Print writes the startup banner with the effective listen address and
// storage path, plus a quick readiness checklist.
func Print(cfg *config.Config, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", cfg.Addr())
	fmt.Printf("DB Path:  %s\n", cfg.Server.DBPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET  /ws                      - websocket event stream")
	fmt.Println("POST /api/register            - create an account")
	fmt.Println("POST /api/login               - obtain a token")
	fmt.Println("GET  /api/getfriends?token=   - accepted friends")
	fmt.Println("POST /api/fetchChatHistory    - conversation page")
	fmt.Println("GET  /metrics                 - prometheus metrics")

	fmt.Println("\n== Production? ================================================")
	if cfg.Auth.TokenSecret != "" {
		fmt.Println("- Token secret: OK")
	} else {
		fmt.Println("- Token secret: MISSING (set auth.token_secret or CHATRELAY_TOKEN_SECRET)")
	}
	if cfg.Security.PhoneKeyHex != "" {
		fmt.Println("- Phone encryption: enabled")
	} else {
		fmt.Println("- Phone encryption: disabled")
	}
	if cfg.Server.TLS.CertFile != "" && cfg.Server.TLS.KeyFile != "" {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}
	if cfg.Reply.Endpoint != "" {
		fmt.Printf("- Bot replies: %s (%s)\n", cfg.Reply.Endpoint, cfg.Reply.Model)
	} else {
		fmt.Println("- Bot replies: canned (set reply.endpoint for a real backend)")
	}

	fmt.Println("\n== Logs: =================================================")
}
