// Package signetctl implements the operator CLI: envelope assembly and
// inspection against the same store the service uses.
package signetctl

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/signethq/signet/internal/audit"
	"github.com/signethq/signet/internal/envelope"
	"github.com/signethq/signet/internal/party"
	"github.com/signethq/signet/internal/requests"
	"github.com/signethq/signet/internal/sharelink"
	"github.com/signethq/signet/internal/signing"
	"github.com/signethq/signet/internal/storage/sqlite"
)

const usage = `usage: signetctl <command> [flags]

commands:
  create        create a draft envelope
  add-document  attach a document to a draft envelope
  invite        add a party to an envelope
  send          send a draft envelope and print invitation secrets
  remind        re-issue an invitation token for a party
  status        show an envelope, its parties, and its audit trail
  stats         show envelope counts for an owner
  grant-key     generate a share grant keypair
`

// Run dispatches a signetctl subcommand.
func Run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return fmt.Errorf("a command is required")
	}

	command, rest := args[0], args[1:]
	switch command {
	case "create":
		return runCreate(ctx, rest, stdout)
	case "add-document":
		return runAddDocument(ctx, rest, stdout)
	case "invite":
		return runInvite(ctx, rest, stdout)
	case "send":
		return runSend(ctx, rest, stdout)
	case "remind":
		return runRemind(ctx, rest, stdout)
	case "status":
		return runStatus(ctx, rest, stdout)
	case "stats":
		return runStats(ctx, rest, stdout)
	case "grant-key":
		return runGrantKey(stdout)
	default:
		fmt.Fprint(stdout, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func defaultDBPath() string {
	if path := strings.TrimSpace(os.Getenv("SIGNET_DB_PATH")); path != "" {
		return path
	}
	return "signet.db"
}

// session is a short-lived store plus service for one subcommand.
type session struct {
	store   *sqlite.Store
	service *requests.Service
}

func openSession(dbPath string) (*session, error) {
	store, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	emitter := audit.NewEmitter(store)
	return &session{
		store:   store,
		service: requests.NewService(store, emitter, sharelink.Config{}),
	}, nil
}

func (s *session) close() {
	if err := s.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close store: %v\n", err)
	}
}

func runCreate(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	dbPath := fs.String("db-path", defaultDBPath(), "sqlite database path")
	tenant := fs.String("tenant", "", "tenant id")
	owner := fs.String("owner", "", "owner user id")
	ownerEmail := fs.String("owner-email", "", "owner email")
	title := fs.String("title", "", "envelope title")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := openSession(*dbPath)
	if err != nil {
		return err
	}
	defer s.close()

	env, err := s.service.CreateEnvelope(ctx, envelope.CreateInput{
		TenantID:   *tenant,
		OwnerID:    *owner,
		OwnerEmail: *ownerEmail,
		Title:      *title,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "created envelope %s (%s)\n", env.ID, envelope.StatusLabel(env.Status))
	return nil
}

func runAddDocument(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("add-document", flag.ContinueOnError)
	dbPath := fs.String("db-path", defaultDBPath(), "sqlite database path")
	envelopeID := fs.String("envelope", "", "envelope id")
	owner := fs.String("owner", "", "owner user id")
	name := fs.String("name", "", "document name")
	contentType := fs.String("content-type", "application/pdf", "document content type")
	storageKey := fs.String("storage-key", "", "object store key")
	algorithm := fs.String("digest-algorithm", "sha-256", "digest algorithm")
	digest := fs.String("digest", "", "hex digest of the document bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := openSession(*dbPath)
	if err != nil {
		return err
	}
	defer s.close()

	doc, err := s.service.AddDocument(ctx, signing.Actor{UserID: *owner}, envelope.AddDocumentInput{
		EnvelopeID:  *envelopeID,
		Name:        *name,
		ContentType: *contentType,
		StorageKey:  *storageKey,
		Digest:      envelope.Digest{Algorithm: *algorithm, Value: *digest},
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "added document %s to envelope %s\n", doc.ID, *envelopeID)
	return nil
}

func runInvite(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("invite", flag.ContinueOnError)
	dbPath := fs.String("db-path", defaultDBPath(), "sqlite database path")
	envelopeID := fs.String("envelope", "", "envelope id")
	owner := fs.String("owner", "", "owner user id")
	email := fs.String("email", "", "party email")
	name := fs.String("name", "", "party name")
	role := fs.String("role", "SIGNER", "party role (SIGNER or VIEWER)")
	sequence := fs.Int("sequence", 0, "signing sequence")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := openSession(*dbPath)
	if err != nil {
		return err
	}
	defer s.close()

	p, invitation, err := s.service.InviteParty(ctx, signing.Actor{UserID: *owner}, party.CreateInput{
		EnvelopeID: *envelopeID,
		Email:      *email,
		Name:       *name,
		Role:       party.RoleFromLabel(*role),
		Sequence:   *sequence,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "added party %s (%s %s)\n", p.ID, party.RoleLabel(p.Role), p.Email)
	if invitation != nil {
		printInvitation(stdout, *invitation)
	}
	return nil
}

func runSend(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	dbPath := fs.String("db-path", defaultDBPath(), "sqlite database path")
	envelopeID := fs.String("envelope", "", "envelope id")
	owner := fs.String("owner", "", "owner user id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := openSession(*dbPath)
	if err != nil {
		return err
	}
	defer s.close()

	env, invitations, err := s.service.SendEnvelope(ctx, signing.Actor{UserID: *owner}, *envelopeID)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "envelope %s is %s\n", env.ID, envelope.StatusLabel(env.Status))
	for _, invitation := range invitations {
		printInvitation(stdout, invitation)
	}
	return nil
}

func runRemind(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("remind", flag.ContinueOnError)
	dbPath := fs.String("db-path", defaultDBPath(), "sqlite database path")
	envelopeID := fs.String("envelope", "", "envelope id")
	partyID := fs.String("party", "", "party id")
	owner := fs.String("owner", "", "owner user id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := openSession(*dbPath)
	if err != nil {
		return err
	}
	defer s.close()

	invitation, err := s.service.RemindParty(ctx, signing.Actor{UserID: *owner}, *envelopeID, *partyID)
	if err != nil {
		return err
	}
	printInvitation(stdout, invitation)
	return nil
}

func runStatus(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	dbPath := fs.String("db-path", defaultDBPath(), "sqlite database path")
	envelopeID := fs.String("envelope", "", "envelope id")
	trailSize := fs.Int("trail", 10, "number of audit events to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := openSession(*dbPath)
	if err != nil {
		return err
	}
	defer s.close()

	env, err := s.store.GetEnvelope(ctx, *envelopeID)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "envelope %s  %s  %q\n", env.ID, envelope.StatusLabel(env.Status), env.Title)
	if env.DeclineReason != "" {
		fmt.Fprintf(stdout, "  declined: %s\n", env.DeclineReason)
	}

	parties, err := s.store.ListParties(ctx, *envelopeID)
	if err != nil {
		return err
	}
	for _, p := range parties {
		fmt.Fprintf(stdout, "  party %s  %-6s  %-8s  %s\n",
			p.ID, party.RoleLabel(p.Role), party.StatusLabel(p.Status), p.Email)
	}

	page, err := s.store.ListAuditEventsByEnvelope(ctx, *envelopeID, *trailSize, "")
	if err != nil {
		return err
	}
	for _, event := range page.AuditEvents {
		fmt.Fprintf(stdout, "  %s  %-20s  %s\n",
			event.CreatedAt.Format("2006-01-02 15:04:05"), event.EventName, event.Outcome)
	}
	return nil
}

func runStats(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	dbPath := fs.String("db-path", defaultDBPath(), "sqlite database path")
	owner := fs.String("owner", "", "owner user id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := openSession(*dbPath)
	if err != nil {
		return err
	}
	defer s.close()

	stats, err := s.store.EnvelopeStatisticsByOwner(ctx, *owner)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "envelopes: %d (completed %d, declined %d)\n", stats.Total, stats.Completed, stats.Declined)
	for status, count := range stats.ByStatus {
		fmt.Fprintf(stdout, "  %-12s %d\n", status, count)
	}
	return nil
}

// runGrantKey emits a fresh share grant keypair in the encoding
// sharelink.LoadConfigFromEnv expects.
func runGrantKey(stdout io.Writer) error {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate keypair: %w", err)
	}
	fmt.Fprintf(stdout, "SIGNET_SHARE_GRANT_PRIVATE_KEY=%s\n", base64.RawStdEncoding.EncodeToString(private))
	fmt.Fprintf(stdout, "SIGNET_SHARE_GRANT_PUBLIC_KEY=%s\n", base64.RawStdEncoding.EncodeToString(public))
	return nil
}

func printInvitation(stdout io.Writer, invitation requests.Invitation) {
	fmt.Fprintf(stdout, "invitation for %s (party %s)\n", invitation.Email, invitation.PartyID)
	fmt.Fprintf(stdout, "  secret:  %s\n", invitation.Secret)
	fmt.Fprintf(stdout, "  expires: %s\n", invitation.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
}
