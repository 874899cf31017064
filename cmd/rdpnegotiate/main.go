// Package main implements a command-line driver for the RDP security
// negotiator: it runs one client-side negotiation attempt against a real
// TCP target and reports the selected protocol.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rcarmo/rdp-negotiate/internal/config"
	"github.com/rcarmo/rdp-negotiate/internal/logging"
	"github.com/rcarmo/rdp-negotiate/internal/negotiate"
	"github.com/rcarmo/rdp-negotiate/internal/protocol/pdu"
	"github.com/rcarmo/rdp-negotiate/internal/transport"
)

var (
	appName    = "RDP Negotiate"
	appVersion = "dev" // injected at build time via -ldflags
)

func main() {
	args, action := parseFlags()
	if action != "" {
		return
	}
	if err := run(args); err != nil {
		log.Fatalln(err)
	}
}

// parsedArgs holds the parsed command line arguments.
type parsedArgs struct {
	host              string
	port              string
	logLevel          string
	skipTLSValidation bool
	tlsServerName     string
	cookie            string
	enableRDP         *bool // nil = use default, non-nil = override
	enableTLS         *bool
	enableNLA         *bool
}

// parseFlags parses command line flags and returns the parsed args.
// Returns action string if help/version was shown (caller should return early).
func parseFlags() (parsedArgs, string) {
	return parseFlagsWithArgs(os.Args[1:])
}

// parseFlagsWithArgs parses the given arguments and returns the parsed args.
func parseFlagsWithArgs(args []string) (parsedArgs, string) {
	fs := flag.NewFlagSet("rdpnegotiate", flag.ContinueOnError)
	hostFlag := fs.String("host", "", "RDP server host")
	portFlag := fs.String("port", "", "RDP server port")
	logLevelFlag := fs.String("log-level", "", "log level (debug, info, warn, error)")
	skipTLS := fs.Bool("skip-tls-validation", false, "skip TLS certificate validation")
	tlsServerName := fs.String("tls-server-name", "", "override TLS server name")
	cookie := fs.String("cookie", "", "mstshash identification cookie")
	useNLA := fs.Bool("use-nla", false, "force-enable Network Level Authentication (NLA/CredSSP)")
	noNLA := fs.Bool("no-nla", false, "disable Network Level Authentication")
	noTLS := fs.Bool("no-tls", false, "disable Enhanced RDP Security (TLS)")
	noRDP := fs.Bool("no-rdp", false, "disable standard RDP security fallback")
	helpFlag := fs.Bool("help", false, "show help")
	versionFlag := fs.Bool("version", false, "show version")

	if err := fs.Parse(args); err != nil {
		return parsedArgs{}, "error"
	}

	if *helpFlag {
		showHelp()
		return parsedArgs{}, "help"
	}

	if *versionFlag {
		showVersion()
		return parsedArgs{}, "version"
	}

	var enableNLAPtr *bool
	switch {
	case *useNLA:
		v := true
		enableNLAPtr = &v
	case *noNLA:
		v := false
		enableNLAPtr = &v
	}

	var enableTLSPtr *bool
	if *noTLS {
		v := false
		enableTLSPtr = &v
	}

	var enableRDPPtr *bool
	if *noRDP {
		v := false
		enableRDPPtr = &v
	}

	return parsedArgs{
		host:              strings.TrimSpace(*hostFlag),
		port:              strings.TrimSpace(*portFlag),
		logLevel:          strings.TrimSpace(*logLevelFlag),
		skipTLSValidation: *skipTLS,
		tlsServerName:     strings.TrimSpace(*tlsServerName),
		cookie:            strings.TrimSpace(*cookie),
		enableRDP:         enableRDPPtr,
		enableTLS:         enableTLSPtr,
		enableNLA:         enableNLAPtr,
	}, ""
}

// run drives one negotiation attempt with the given arguments.
func run(args parsedArgs) error {
	opts := config.LoadOptions{
		Host:              args.host,
		Port:              args.port,
		LogLevel:          args.logLevel,
		SkipTLSValidation: args.skipTLSValidation,
		TLSServerName:     args.tlsServerName,
		EnableRDP:         args.enableRDP,
		EnableTLS:         args.enableTLS,
		EnableNLA:         args.enableNLA,
	}

	cfg, err := config.LoadWithOverrides(opts)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logging.SetLevelFromString(cfg.Logging.Level)

	logging.Info("negotiating with %s:%d (RDP=%t TLS=%t NLA=%t)",
		cfg.Target.Host, cfg.Target.Port,
		cfg.Security.EnableRDP, cfg.Security.EnableTLS, cfg.Security.EnableNLA)

	tr := transport.New()
	client := negotiate.New(tr)

	client.SetTarget(cfg.Target.Host, cfg.Target.Port)
	client.EnableRDP(cfg.Security.EnableRDP)
	client.EnableTLS(cfg.Security.EnableTLS)
	client.EnableNLA(cfg.Security.EnableNLA)
	client.SetCookie(args.cookie)
	client.SetTLSConfig(transport.TLSConfig{
		InsecureSkipVerify: cfg.Security.SkipTLSValidation,
		ServerName:         cfg.Security.TLSServerName,
	})
	client.SetNLAPromotor(func(conn net.Conn) (net.Conn, error) {
		return nil, errors.New("NLA/CredSSP handshake not implemented: supply a promotor via SetNLAPromotor")
	})
	defer client.Free()

	start := time.Now()
	err = client.Connect()
	elapsed := time.Since(start)

	if err != nil {
		logging.Error("negotiation failed after %s: %v", elapsed, err)
		return err
	}

	settings := client.Settings()
	logging.Info("negotiation succeeded in %s: selected=%s flags=%s",
		elapsed, protocolName(settings.SelectedProtocol), settings.Flags)

	fmt.Printf("selected protocol: %s\n", protocolName(settings.SelectedProtocol))

	return nil
}

func protocolName(p pdu.NegotiationProtocol) string {
	switch {
	case p.IsHybrid():
		return "NLA"
	case p.IsSSL():
		return "TLS"
	case p.IsRDP():
		return "RDP"
	default:
		return "UNKNOWN"
	}
}

func showHelp() {
	fmt.Println(appName)
	fmt.Println("USAGE: rdpnegotiate [options]")
	fmt.Println("OPTIONS:")
	fmt.Println("  -host                 Target RDP server host (default 127.0.0.1)")
	fmt.Println("  -port                 Target RDP server port (default 3389)")
	fmt.Println("  -log-level            Set log level (debug, info, warn, error)")
	fmt.Println("  -skip-tls-validation  Skip TLS certificate validation")
	fmt.Println("  -tls-server-name      Override TLS server name (SNI)")
	fmt.Println("  -cookie               mstshash identification cookie")
	fmt.Println("  -use-nla              Force-enable Network Level Authentication")
	fmt.Println("  -no-nla               Disable Network Level Authentication")
	fmt.Println("  -no-tls               Disable Enhanced RDP Security (TLS)")
	fmt.Println("  -no-rdp               Disable standard RDP security fallback")
	fmt.Println("  -version              Show version information")
	fmt.Println("  -help                 Show this help message")
}

func showVersion() {
	fmt.Printf("%s %s\n", appName, appVersion)
	fmt.Println("Protocol: MS-RDPBCGR security negotiation")
}
