// apctl drives the payment protocol from the command line: keypairs,
// authorizations, delegations, settlement and merchant orders. Ledger state
// lives in a local snapshot file unless an RPC endpoint is configured for
// reads.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"augenpay/internal/config"
	"augenpay/internal/keys"
	"augenpay/pkg/engine"
	"augenpay/pkg/gatesdk"
	"augenpay/pkg/ledger"
	"augenpay/pkg/ledger/solrpc"
)

const usageText = `usage: apctl <command> [<args>]

commands:
  keys new        generate a keypair
  mint            credit a token account on the local ledger
  auth            create | deposit | withdraw | pause | resume | show | list
  grant           create | modify | revoke | show | list
  settle          spend against a delegation
  receipts        list receipts paid to a merchant
  order           create | prove | status | fulfill`

func main() {
	if len(os.Args) < 2 {
		fail(usageText)
	}
	switch os.Args[1] {
	case "keys":
		runKeys(os.Args[2:])
	case "mint":
		runMint(os.Args[2:])
	case "auth":
		runAuth(os.Args[2:])
	case "grant":
		runGrant(os.Args[2:])
	case "settle":
		runSettle(os.Args[2:])
	case "receipts":
		runReceipts(os.Args[2:])
	case "order":
		runOrder(os.Args[2:])
	default:
		fail(usageText)
	}
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}

func die(err error) {
	fmt.Fprintln(os.Stderr, "apctl:", err)
	os.Exit(1)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// env is everything a ledger-mutating command needs: the engine over the
// snapshot-backed ledger, plus a save hook to persist the result.
type env struct {
	cfg  config.Config
	led  *ledger.Memory
	eng  *engine.Engine
	save func()
}

func loadEnv(configPath string) *env {
	cfg, err := config.Load(configPath)
	if err != nil {
		die(err)
	}
	program, err := solana.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		die(fmt.Errorf("program_id: %w", err))
	}
	led, err := ledger.LoadMemory(cfg.LedgerSnapshot)
	if err != nil {
		if !os.IsNotExist(err) {
			die(err)
		}
		led = ledger.NewMemory()
	}
	return &env{
		cfg: cfg,
		led: led,
		eng: engine.New(led, program),
		save: func() {
			if err := led.Save(cfg.LedgerSnapshot); err != nil {
				die(err)
			}
		},
	}
}

// loadReader picks the read side for receipt queries: RPC when configured,
// the local snapshot otherwise.
func loadReader(configPath string) (ledger.Reader, config.Config) {
	cfg, err := config.Load(configPath)
	if err != nil {
		die(err)
	}
	if cfg.RPCURL != "" {
		program, err := solana.PublicKeyFromBase58(cfg.ProgramID)
		if err != nil {
			die(fmt.Errorf("program_id: %w", err))
		}
		return solrpc.NewReader(cfg.RPCURL, program), cfg
	}
	led, err := ledger.LoadMemory(cfg.LedgerSnapshot)
	if err != nil {
		die(err)
	}
	return led, cfg
}

func mustKey(path string) solana.PrivateKey {
	key, err := keys.Load(path)
	if err != nil {
		die(err)
	}
	return key
}

func mustPubkey(name, raw string) solana.PublicKey {
	pk, err := solana.PublicKeyFromBase58(strings.TrimSpace(raw))
	if err != nil {
		die(fmt.Errorf("--%s: %w", name, err))
	}
	return pk
}

// parseExpiry accepts an RFC3339 timestamp or a duration from now.
func parseExpiry(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		die(fmt.Errorf("--expiry: want RFC3339 or duration, got %q", raw))
	}
	return time.Now().Add(d)
}

func runKeys(args []string) {
	if len(args) < 1 || args[0] != "new" {
		fail("usage: apctl keys new --out <path>")
	}
	fs := flag.NewFlagSet("keys new", flag.ExitOnError)
	out := fs.String("out", "", "keypair file to create")
	_ = fs.Parse(args[1:])
	if *out == "" {
		fail("usage: apctl keys new --out <path>")
	}
	key, err := keys.Generate(*out)
	if err != nil {
		die(err)
	}
	printJSON(map[string]any{"pubkey": key.PublicKey().String(), "path": *out})
}

func runMint(args []string) {
	fs := flag.NewFlagSet("mint", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	account := fs.String("account", "", "token account to credit")
	amount := fs.Uint64("amount", 0, "amount to credit")
	_ = fs.Parse(args)
	if *account == "" || *amount == 0 {
		fail("usage: apctl mint --account <pubkey> --amount <n>")
	}
	e := loadEnv(*configPath)
	e.led.Mint(mustPubkey("account", *account), *amount)
	e.save()
	printJSON(map[string]any{"account": *account, "minted": *amount})
}

func runAuth(args []string) {
	if len(args) < 1 {
		fail("usage: apctl auth create|deposit|withdraw|pause|resume|show [<args>]")
	}
	ctx := context.Background()
	switch args[0] {
	case "create":
		fs := flag.NewFlagSet("auth create", flag.ExitOnError)
		configPath := fs.String("config", "", "config file")
		ownerKey := fs.String("owner-key", "", "owner keypair file")
		nonce := fs.Uint64("nonce", uint64(time.Now().UnixNano()), "derivation nonce")
		asset := fs.String("asset", "", "asset mint address")
		perSpend := fs.Uint64("per-spend-limit", 0, "per-spend limit")
		expiry := fs.String("expiry", "720h", "expiry (RFC3339 or duration)")
		_ = fs.Parse(args[1:])
		if *ownerKey == "" || *asset == "" || *perSpend == 0 {
			fail("usage: apctl auth create --owner-key <file> --asset <pubkey> --per-spend-limit <n> [--nonce <n>] [--expiry <when>]")
		}
		e := loadEnv(*configPath)
		owner := mustKey(*ownerKey)
		addr, auth, err := e.eng.CreateAuthorization(ctx, owner.PublicKey(), *nonce, mustPubkey("asset", *asset), *perSpend, parseExpiry(*expiry))
		if err != nil {
			die(err)
		}
		e.save()
		printJSON(map[string]any{"authorization": addr.String(), "custody": auth.CustodyAccount.String(), "nonce": auth.Nonce})
	case "deposit":
		fs := flag.NewFlagSet("auth deposit", flag.ExitOnError)
		configPath := fs.String("config", "", "config file")
		auth := fs.String("auth", "", "authorization address")
		source := fs.String("source", "", "source token account")
		amount := fs.Uint64("amount", 0, "amount")
		_ = fs.Parse(args[1:])
		if *auth == "" || *source == "" || *amount == 0 {
			fail("usage: apctl auth deposit --auth <pubkey> --source <pubkey> --amount <n>")
		}
		e := loadEnv(*configPath)
		if err := e.eng.Deposit(ctx, mustPubkey("auth", *auth), mustPubkey("source", *source), *amount); err != nil {
			die(err)
		}
		e.save()
		printJSON(map[string]any{"deposited": *amount})
	case "withdraw":
		fs := flag.NewFlagSet("auth withdraw", flag.ExitOnError)
		configPath := fs.String("config", "", "config file")
		ownerKey := fs.String("owner-key", "", "owner keypair file")
		auth := fs.String("auth", "", "authorization address")
		dest := fs.String("dest", "", "destination token account")
		amount := fs.Uint64("amount", 0, "amount")
		_ = fs.Parse(args[1:])
		if *ownerKey == "" || *auth == "" || *dest == "" || *amount == 0 {
			fail("usage: apctl auth withdraw --owner-key <file> --auth <pubkey> --dest <pubkey> --amount <n>")
		}
		e := loadEnv(*configPath)
		owner := mustKey(*ownerKey)
		if err := e.eng.Withdraw(ctx, owner.PublicKey(), mustPubkey("auth", *auth), mustPubkey("dest", *dest), *amount); err != nil {
			die(err)
		}
		e.save()
		printJSON(map[string]any{"withdrawn": *amount})
	case "pause", "resume":
		fs := flag.NewFlagSet("auth "+args[0], flag.ExitOnError)
		configPath := fs.String("config", "", "config file")
		ownerKey := fs.String("owner-key", "", "owner keypair file")
		auth := fs.String("auth", "", "authorization address")
		_ = fs.Parse(args[1:])
		if *ownerKey == "" || *auth == "" {
			fail("usage: apctl auth " + args[0] + " --owner-key <file> --auth <pubkey>")
		}
		e := loadEnv(*configPath)
		owner := mustKey(*ownerKey)
		var err error
		if args[0] == "pause" {
			err = e.eng.Pause(ctx, owner.PublicKey(), mustPubkey("auth", *auth))
		} else {
			err = e.eng.Resume(ctx, owner.PublicKey(), mustPubkey("auth", *auth))
		}
		if err != nil {
			die(err)
		}
		e.save()
		printJSON(map[string]any{"authorization": *auth, "paused": args[0] == "pause"})
	case "show":
		fs := flag.NewFlagSet("auth show", flag.ExitOnError)
		configPath := fs.String("config", "", "config file")
		auth := fs.String("auth", "", "authorization address")
		_ = fs.Parse(args[1:])
		if *auth == "" {
			fail("usage: apctl auth show --auth <pubkey>")
		}
		reader, _ := loadReader(*configPath)
		a, err := engine.FetchAuthorization(ctx, reader, mustPubkey("auth", *auth))
		if err != nil {
			die(err)
		}
		balance := map[string]any{}
		if led, ok := reader.(*ledger.Memory); ok {
			if bal, err := led.Balance(ctx, a.CustodyAccount); err == nil {
				balance["custody_balance"] = bal
			}
		}
		printJSON(map[string]any{
			"owner":           a.Owner.String(),
			"nonce":           a.Nonce,
			"asset":           a.Asset.String(),
			"custody":         a.CustodyAccount.String(),
			"per_spend_limit": a.PerSpendLimit,
			"expiry":          time.Unix(a.Expiry, 0).UTC().Format(time.RFC3339),
			"paused":          a.Paused,
			"total_deposited": a.TotalDeposited,
			"balance":         balance,
		})
	case "list":
		fs := flag.NewFlagSet("auth list", flag.ExitOnError)
		configPath := fs.String("config", "", "config file")
		owner := fs.String("owner", "", "owner public key")
		_ = fs.Parse(args[1:])
		if *owner == "" {
			fail("usage: apctl auth list --owner <pubkey>")
		}
		reader, _ := loadReader(*configPath)
		entries, err := engine.ListAuthorizationsByOwner(ctx, reader, mustPubkey("owner", *owner))
		if err != nil {
			die(err)
		}
		out := make([]map[string]any, 0, len(entries))
		for _, ent := range entries {
			out = append(out, map[string]any{
				"authorization":   ent.Address.String(),
				"nonce":           ent.Authorization.Nonce,
				"per_spend_limit": ent.Authorization.PerSpendLimit,
				"paused":          ent.Authorization.Paused,
				"expiry":          time.Unix(ent.Authorization.Expiry, 0).UTC().Format(time.RFC3339),
			})
		}
		printJSON(out)
	default:
		fail("usage: apctl auth create|deposit|withdraw|pause|resume|show|list [<args>]")
	}
}

func runGrant(args []string) {
	if len(args) < 1 {
		fail("usage: apctl grant create|modify|revoke|show [<args>]")
	}
	ctx := context.Background()
	switch args[0] {
	case "create":
		fs := flag.NewFlagSet("grant create", flag.ExitOnError)
		configPath := fs.String("config", "", "config file")
		ownerKey := fs.String("owner-key", "", "owner keypair file")
		auth := fs.String("auth", "", "authorization address")
		agent := fs.String("agent", "", "agent public key")
		allowed := fs.Uint64("allowed", 0, "cumulative spending cap")
		expiry := fs.String("expiry", "168h", "expiry (RFC3339 or duration)")
		_ = fs.Parse(args[1:])
		if *ownerKey == "" || *auth == "" || *agent == "" || *allowed == 0 {
			fail("usage: apctl grant create --owner-key <file> --auth <pubkey> --agent <pubkey> --allowed <n> [--expiry <when>]")
		}
		e := loadEnv(*configPath)
		owner := mustKey(*ownerKey)
		addr, del, err := e.eng.CreateDelegation(ctx, owner.PublicKey(), mustPubkey("auth", *auth), mustPubkey("agent", *agent), *allowed, parseExpiry(*expiry))
		if err != nil {
			die(err)
		}
		e.save()
		printJSON(map[string]any{"delegation": addr.String(), "agent": del.Agent.String(), "allowed": del.Allowed})
	case "modify":
		fs := flag.NewFlagSet("grant modify", flag.ExitOnError)
		configPath := fs.String("config", "", "config file")
		ownerKey := fs.String("owner-key", "", "owner keypair file")
		grant := fs.String("grant", "", "delegation address")
		allowed := fs.Uint64("allowed", 0, "new cumulative cap")
		expiry := fs.String("expiry", "", "new expiry (RFC3339 or duration)")
		_ = fs.Parse(args[1:])
		if *ownerKey == "" || *grant == "" || *allowed == 0 || *expiry == "" {
			fail("usage: apctl grant modify --owner-key <file> --grant <pubkey> --allowed <n> --expiry <when>")
		}
		e := loadEnv(*configPath)
		owner := mustKey(*ownerKey)
		if err := e.eng.ModifyDelegation(ctx, owner.PublicKey(), mustPubkey("grant", *grant), *allowed, parseExpiry(*expiry)); err != nil {
			die(err)
		}
		e.save()
		printJSON(map[string]any{"delegation": *grant, "allowed": *allowed})
	case "revoke":
		fs := flag.NewFlagSet("grant revoke", flag.ExitOnError)
		configPath := fs.String("config", "", "config file")
		ownerKey := fs.String("owner-key", "", "owner keypair file")
		grant := fs.String("grant", "", "delegation address")
		_ = fs.Parse(args[1:])
		if *ownerKey == "" || *grant == "" {
			fail("usage: apctl grant revoke --owner-key <file> --grant <pubkey>")
		}
		e := loadEnv(*configPath)
		owner := mustKey(*ownerKey)
		if err := e.eng.RevokeDelegation(ctx, owner.PublicKey(), mustPubkey("grant", *grant)); err != nil {
			die(err)
		}
		e.save()
		printJSON(map[string]any{"delegation": *grant, "revoked": true})
	case "show":
		fs := flag.NewFlagSet("grant show", flag.ExitOnError)
		configPath := fs.String("config", "", "config file")
		grant := fs.String("grant", "", "delegation address")
		_ = fs.Parse(args[1:])
		if *grant == "" {
			fail("usage: apctl grant show --grant <pubkey>")
		}
		reader, _ := loadReader(*configPath)
		d, err := engine.FetchDelegation(ctx, reader, mustPubkey("grant", *grant))
		if err != nil {
			die(err)
		}
		printJSON(map[string]any{
			"authorization":    d.Authorization.String(),
			"agent":            d.Agent.String(),
			"allowed":          d.Allowed,
			"spent":            d.Spent,
			"headroom":         d.Headroom(),
			"expiry":           time.Unix(d.Expiry, 0).UTC().Format(time.RFC3339),
			"redemption_count": d.RedemptionCount,
			"status":           d.Status(time.Now()),
		})
	case "list":
		fs := flag.NewFlagSet("grant list", flag.ExitOnError)
		configPath := fs.String("config", "", "config file")
		auth := fs.String("auth", "", "authorization address")
		_ = fs.Parse(args[1:])
		if *auth == "" {
			fail("usage: apctl grant list --auth <pubkey>")
		}
		reader, _ := loadReader(*configPath)
		entries, err := engine.ListDelegationsByAuthorization(ctx, reader, mustPubkey("auth", *auth))
		if err != nil {
			die(err)
		}
		out := make([]map[string]any, 0, len(entries))
		for _, ent := range entries {
			out = append(out, map[string]any{
				"delegation": ent.Address.String(),
				"agent":      ent.Delegation.Agent.String(),
				"allowed":    ent.Delegation.Allowed,
				"spent":      ent.Delegation.Spent,
				"status":     ent.Delegation.Status(time.Now()),
			})
		}
		printJSON(out)
	default:
		fail("usage: apctl grant create|modify|revoke|show|list [<args>]")
	}
}

func runSettle(args []string) {
	fs := flag.NewFlagSet("settle", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	agentKey := fs.String("agent-key", "", "agent keypair file")
	grant := fs.String("grant", "", "delegation address")
	merchant := fs.String("merchant", "", "merchant public key")
	merchantTokens := fs.String("merchant-tokens", "", "merchant token account")
	amount := fs.Uint64("amount", 0, "amount to pay")
	contextJSON := fs.String("context", "", "context document (inline JSON or @file)")
	_ = fs.Parse(args)
	if *agentKey == "" || *grant == "" || *merchant == "" || *merchantTokens == "" || *amount == 0 || *contextJSON == "" {
		fail("usage: apctl settle --agent-key <file> --grant <pubkey> --merchant <pubkey> --merchant-tokens <pubkey> --amount <n> --context <json|@file>")
	}

	raw := *contextJSON
	if strings.HasPrefix(raw, "@") {
		data, err := os.ReadFile(strings.TrimPrefix(raw, "@"))
		if err != nil {
			die(err)
		}
		raw = string(data)
	}
	var contextData any
	if err := json.Unmarshal([]byte(raw), &contextData); err != nil {
		die(fmt.Errorf("--context: %w", err))
	}

	e := loadEnv(*configPath)
	agent := mustKey(*agentKey)
	recAddr, rec, err := e.eng.Settle(context.Background(), agent.PublicKey(),
		mustPubkey("grant", *grant), mustPubkey("merchant", *merchant),
		mustPubkey("merchant-tokens", *merchantTokens), *amount, contextData)
	if err != nil {
		die(err)
	}
	e.save()
	printJSON(map[string]any{
		"receipt":      recAddr.String(),
		"amount":       rec.Amount,
		"context_hash": fmt.Sprintf("%x", rec.ContextHash),
		"timestamp":    time.Unix(rec.Timestamp, 0).UTC().Format(time.RFC3339),
	})
}

func runReceipts(args []string) {
	fs := flag.NewFlagSet("receipts", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	merchant := fs.String("merchant", "", "merchant public key")
	_ = fs.Parse(args)
	if *merchant == "" {
		fail("usage: apctl receipts --merchant <pubkey>")
	}
	reader, _ := loadReader(*configPath)
	entries, err := engine.ListReceiptsByMerchant(context.Background(), reader, mustPubkey("merchant", *merchant))
	if err != nil {
		die(err)
	}
	out := make([]map[string]any, 0, len(entries))
	for _, ent := range entries {
		out = append(out, map[string]any{
			"receipt":      ent.Address.String(),
			"delegation":   ent.Receipt.Delegation.String(),
			"amount":       ent.Receipt.Amount,
			"context_hash": fmt.Sprintf("%x", ent.Receipt.ContextHash),
			"timestamp":    time.Unix(ent.Receipt.Timestamp, 0).UTC().Format(time.RFC3339),
		})
	}
	printJSON(out)
}

func runOrder(args []string) {
	if len(args) < 1 {
		fail("usage: apctl order create|prove|status|fulfill [<args>]")
	}
	ctx := context.Background()
	newClient := func(configPath string) *gatesdk.Client {
		cfg, err := config.Load(configPath)
		if err != nil {
			die(err)
		}
		return gatesdk.New(cfg.GateURL)
	}
	switch args[0] {
	case "create", "challenge":
		fs := flag.NewFlagSet("order create", flag.ExitOnError)
		configPath := fs.String("config", "", "config file")
		amount := fs.Uint64("amount", 0, "order amount")
		memo := fs.String("memo", "", "order memo")
		contextJSON := fs.String("context", "", "extra context document (inline JSON object or @file)")
		_ = fs.Parse(args[1:])
		if *amount == 0 {
			fail("usage: apctl order create --amount <n> [--memo <text>] [--context <json|@file>]")
		}
		var details map[string]any
		if *contextJSON != "" {
			raw := *contextJSON
			if strings.HasPrefix(raw, "@") {
				data, err := os.ReadFile(strings.TrimPrefix(raw, "@"))
				if err != nil {
					die(err)
				}
				raw = string(data)
			}
			if err := json.Unmarshal([]byte(raw), &details); err != nil {
				die(fmt.Errorf("--context: %w", err))
			}
		}
		res, err := newClient(*configPath).CreateOrder(ctx, *amount, *memo, details)
		if err != nil {
			die(err)
		}
		printJSON(res)
	case "prove":
		fs := flag.NewFlagSet("order prove", flag.ExitOnError)
		configPath := fs.String("config", "", "config file")
		orderID := fs.String("order", "", "order id")
		receipt := fs.String("receipt", "", "receipt address (empty lets the gate scan)")
		_ = fs.Parse(args[1:])
		if *orderID == "" {
			fail("usage: apctl order prove --order <id> [--receipt <pubkey>]")
		}
		res, err := newClient(*configPath).SubmitProof(ctx, *orderID, *receipt)
		if err != nil {
			die(err)
		}
		printJSON(res)
	case "status":
		fs := flag.NewFlagSet("order status", flag.ExitOnError)
		configPath := fs.String("config", "", "config file")
		orderID := fs.String("order", "", "order id")
		_ = fs.Parse(args[1:])
		if *orderID == "" {
			fail("usage: apctl order status --order <id>")
		}
		res, err := newClient(*configPath).GetOrder(ctx, *orderID)
		if err != nil {
			die(err)
		}
		printJSON(res)
	case "fulfill":
		fs := flag.NewFlagSet("order fulfill", flag.ExitOnError)
		configPath := fs.String("config", "", "config file")
		orderID := fs.String("order", "", "order id")
		_ = fs.Parse(args[1:])
		if *orderID == "" {
			fail("usage: apctl order fulfill --order <id>")
		}
		res, err := newClient(*configPath).Fulfill(ctx, *orderID)
		if err != nil {
			die(err)
		}
		printJSON(res)
	default:
		fail("usage: apctl order create|prove|status|fulfill [<args>]")
	}
}
