package main

import (
	"context"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Scille/parsec-cloud-sub013/internal/config"
	"github.com/Scille/parsec-cloud-sub013/internal/observability"
	"github.com/Scille/parsec-cloud-sub013/internal/utils"
	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
	"github.com/Scille/parsec-cloud-sub013/pkg/invite/api"
	"github.com/Scille/parsec-cloud-sub013/pkg/protocols/greet"
)

const usageFmt = `
Command Usage: %s <command> [Flags]
  Drive Parsec invitations from the command line.

Commands:
---------
  token          mint a device authentication token
  invite-user    create a USER invitation
  invite-device  create a DEVICE invitation
  greet          greet the claimer of an invitation
  claim          claim an invitation

Run "%s <command> -h" for the command flags.
`

type Cmd struct {
	Client *api.Client
	In     io.Reader
	Out    io.Writer
}

// clientFlags registers the flags that configure the api.Client on flags.
func (self *Cmd) clientFlags(flags *flag.FlagSet) {
	self.Client = &api.Client{HTTP: &http.Client{}}
	flags.StringVar(&self.Client.BaseURL, "s", os.Getenv("GREETCTL_SERVER"), `invited server URL, defaults to $GREETCTL_SERVER`)
	flags.Func("o", `organization id`, func(v string) error {
		self.Client.Org = invite.OrganizationID(v)
		return nil
	})
	flags.BoolVar(&self.Client.CBOR, "cbor", false, `use CBOR bodies instead of JSON`)
}

// bearerFlag registers the device authentication token flag on flags.
func (self *Cmd) bearerFlag(flags *flag.FlagSet) {
	flags.StringVar(&self.Client.Bearer, "b", os.Getenv("GREETCTL_BEARER"), `device token, defaults to $GREETCTL_BEARER`)
}

// tokenFlag registers the invitation token flag on flags.
func (self *Cmd) tokenFlag(flags *flag.FlagSet, token *invite.Token) {
	flags.Func("t", `hexadecimal invitation token`, func(v string) error {
		return token.UnmarshalText([]byte(v))
	})
}

func newFlagSet(progname string, command string, doc string) *flag.FlagSet {
	flags := flag.NewFlagSet(command, flag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "\nCommand Usage: %s %s [Flags]\n  %s\n\nFlags:\n------\n", path.Base(progname), command, doc)
		flags.PrintDefaults()
	}
	return flags
}

func main() {
	progname := path.Base(os.Args[0])
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usageFmt, progname, progname)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = observability.SetObservability(ctx, &observability.Observability{Logger: observability.NoopLogger()})

	cmd := &Cmd{In: os.Stdin, Out: os.Stdout}
	command, args := os.Args[1], os.Args[2:]
	var err error
	switch command {
	case "token":
		err = cmd.Token(progname, args)
	case "invite-user":
		err = cmd.InviteUser(ctx, progname, args)
	case "invite-device":
		err = cmd.InviteDevice(ctx, progname, args)
	case "greet":
		err = cmd.Greet(ctx, progname, args)
	case "claim":
		err = cmd.Claim(ctx, progname, args)
	default:
		fmt.Fprintf(os.Stderr, usageFmt, progname, progname)
		os.Exit(2)
	}
	if nil != err {
		log.Fatalf("Failed %s, got error %v", command, err)
	}
}

// Token prints a device token signed with the invited server configuration secret.
func (self *Cmd) Token(progname string, args []string) error {
	flags := newFlagSet(progname, "token", "Mint a device authentication token.")
	var cfgPath, org, device string
	flags.StringVar(&cfgPath, "c", "", `path of the invited YAML configuration file`)
	flags.StringVar(&org, "o", "", `organization id`)
	flags.StringVar(&device, "d", "", `device id of form user@device`)
	flags.Parse(args)

	cfg, err := config.Load(cfgPath)
	if nil != err {
		return err
	}
	tokens := api.TokenAuthority{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer, TTL: cfg.JWTTTL}
	signed, err := tokens.Mint(invite.Author{Org: invite.OrganizationID(org), DeviceID: invite.DeviceID(device)})
	if nil != err {
		return err
	}
	_, err = fmt.Fprintln(self.Out, signed)
	return err
}

func (self *Cmd) InviteUser(ctx context.Context, progname string, args []string) error {
	flags := newFlagSet(progname, "invite-user", "Create a USER invitation.")
	self.clientFlags(flags)
	self.bearerFlag(flags)
	var email string
	var sendEmail bool
	flags.StringVar(&email, "e", "", `claimer email`)
	flags.BoolVar(&sendEmail, "send", false, `email the invitation link to the claimer`)
	flags.Parse(args)

	res, err := self.Client.NewUserInvitation(ctx, email, sendEmail)
	if nil != err {
		return err
	}
	return self.printJSON(res)
}

func (self *Cmd) InviteDevice(ctx context.Context, progname string, args []string) error {
	flags := newFlagSet(progname, "invite-device", "Create a DEVICE invitation.")
	self.clientFlags(flags)
	self.bearerFlag(flags)
	var sendEmail bool
	flags.BoolVar(&sendEmail, "send", false, `email the invitation link to the author`)
	flags.Parse(args)

	res, err := self.Client.NewDeviceInvitation(ctx, sendEmail)
	if nil != err {
		return err
	}
	return self.printJSON(res)
}

// Greet runs the greeter side of an invitation, answering the claimer request with the flags values.
func (self *Cmd) Greet(ctx context.Context, progname string, args []string) error {
	flags := newFlagSet(progname, "greet", "Greet the claimer of an invitation.")
	self.clientFlags(flags)
	self.bearerFlag(flags)
	var token invite.Token
	self.tokenFlag(flags, &token)
	var userID, profile string
	var rootKey, userKey, share utils.HexBinary
	flags.StringVar(&userID, "user-id", "", `id of the new USER, defaults to the claimer email local part`)
	flags.StringVar(&profile, "profile", string(invite.ProfileStandard), `profile of the new USER`)
	flags.TextVar(&rootKey, "root-key", utils.HexBinary(nil), `hexadecimal organization root verify key`)
	flags.TextVar(&userKey, "user-key", utils.HexBinary(nil), `hexadecimal greeter user private key, shared with a new DEVICE`)
	flags.TextVar(&share, "share", utils.HexBinary(nil), `hexadecimal recovery share, for SHAMIR_RECOVERY invitations`)
	flags.Parse(args)

	kind, err := self.invitationKind(ctx, token)
	if nil != err {
		return err
	}
	greeterID, err := self.bearerUser()
	if nil != err {
		return err
	}

	enroll := func(_ context.Context, req greet.ClaimerRequest) (greet.EnrollmentPayload, error) {
		rv := greet.EnrollmentPayload{Kind: kind, HumanHandle: req.HumanHandle, DeviceLabel: req.DeviceLabel}
		switch kind {
		case invite.KindUser:
			rv.UserID = invite.UserID(userID)
			if "" == rv.UserID {
				local, _, _ := strings.Cut(strings.ToLower(req.HumanHandle.Email), "@")
				rv.UserID = invite.UserID(local)
			}
			rv.DeviceID = invite.DeviceID(string(rv.UserID) + "@" + req.DeviceLabel)
			rv.Profile = invite.Profile(profile)
			rv.RootVerifyKey = rootKey
		case invite.KindDevice:
			rv.UserID = greeterID
			rv.DeviceID = invite.DeviceID(string(greeterID) + "@" + req.DeviceLabel)
			rv.Profile = invite.Profile(profile)
			rv.RootVerifyKey = rootKey
			rv.UserPrivateKey = userKey
		case invite.KindShamirRecovery:
			rv.Share = share
		}
		return rv, nil
	}

	cfg := greet.GreeterCfg{
		Suite:  greet.DefaultSuite,
		Kind:   kind,
		UI:     newPromptUI(self.In, self.Out),
		Enroll: enroll,
	}
	err = greet.RunGreeter(ctx, cfg, api.GreeterConduit{Client: self.Client, Token: token})
	if nil != err {
		return err
	}
	_, err = fmt.Fprintln(self.Out, "Greeting completed")
	return err
}

// Claim runs the claimer side of an invitation & prints the received enrollment with the generated keys.
func (self *Cmd) Claim(ctx context.Context, progname string, args []string) error {
	flags := newFlagSet(progname, "claim", "Claim an invitation.")
	self.clientFlags(flags)
	self.tokenFlag(flags, &self.Client.InvitationToken)
	var greeterID, email, label, deviceLabel string
	flags.StringVar(&greeterID, "g", "", `greeter user id, defaults to the invitation creator`)
	flags.StringVar(&email, "e", "", `claimer email, defaults to the invitation email`)
	flags.StringVar(&label, "l", "", `claimer name`)
	flags.StringVar(&deviceLabel, "device-label", "", `label of the new device`)
	flags.Parse(args)

	info, err := self.Client.InfoAsInvited(ctx)
	if nil != err {
		return err
	}
	if "" == greeterID {
		greeterID = string(info.GreeterUserID)
	}
	if "" == email {
		email = info.ClaimerEmail
	}
	if "" == deviceLabel {
		deviceLabel, _ = os.Hostname()
	}

	privkey, err := ecdh.X25519().GenerateKey(rand.Reader)
	if nil != err {
		return err
	}
	verifyKey, signingKey, err := ed25519.GenerateKey(rand.Reader)
	if nil != err {
		return err
	}
	cfg := greet.ClaimerCfg{
		Suite: greet.DefaultSuite,
		UI:    newPromptUI(self.In, self.Out),
		Request: greet.ClaimerRequest{
			Kind:        info.Kind,
			DeviceLabel: deviceLabel,
			HumanHandle: invite.HumanHandle{Email: email, Label: label},
			PublicKey:   privkey.PublicKey().Bytes(),
			VerifyKey:   verifyKey,
		},
	}
	conduit := api.ClaimerConduit{Client: self.Client, GreeterUserID: invite.UserID(greeterID)}
	enrollment, err := greet.RunClaimer(ctx, cfg, conduit)
	if nil != err {
		return err
	}

	return self.printJSON(struct {
		Enrollment greet.EnrollmentPayload `json:"enrollment"`
		PrivateKey utils.HexBinary         `json:"private_key"`
		SigningKey utils.HexBinary         `json:"signing_key"`
		ClaimedOn  time.Time               `json:"claimed_on"`
	}{
		Enrollment: enrollment,
		PrivateKey: privkey.Bytes(),
		SigningKey: utils.HexBinary(signingKey),
		ClaimedOn:  time.Now(),
	})
}

// invitationKind finds the Kind of the token invitation among those listed to the greeter.
func (self *Cmd) invitationKind(ctx context.Context, token invite.Token) (invite.Kind, error) {
	infos, err := self.Client.ListInvitations(ctx)
	if nil != err {
		return "", err
	}
	for _, info := range infos {
		if token == info.Token {
			return info.Kind, nil
		}
	}
	return "", fmt.Errorf("invitation %s not found", token)
}

// bearerUser returns the user of the Client device token claims.
// The token is not verified, the server does it.
func (self *Cmd) bearerUser() (invite.UserID, error) {
	var claims api.DeviceClaims
	_, _, err := jwt.NewParser().ParseUnverified(self.Client.Bearer, &claims)
	if nil != err {
		return "", fmt.Errorf("malformed device token: %w", err)
	}
	return claims.Device.UserID(), nil
}

func (self *Cmd) printJSON(v any) error {
	enc := json.NewEncoder(self.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
