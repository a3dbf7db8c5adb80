// mbadmin is the command line tool of the bridge administrator. It keeps the
// admin keypair and the roster in a local config file and signs every
// management request with the admin key.
package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/medchain/medbridge"
	"github.com/medchain/medbridge/bridge"
	"github.com/medchain/medbridge/service"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/util/encoding"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/app"
	"go.dedis.ch/onet/v3/cfgpath"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/network"
	"golang.org/x/xerrors"
	cli "gopkg.in/urfave/cli.v1"
)

type config struct {
	Roster       *onet.Roster
	AdminPublic  kyber.Point
	AdminPrivate kyber.Scalar
}

var cmds = cli.Commands{
	{
		Name:   "init",
		Usage:  "generate the admin keypair and initialize the bridge",
		Action: doInit,
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "roster, r",
				Usage: "the roster of the conodes hosting the bridge",
			},
		},
	},
	{
		Name:  "validator",
		Usage: "manage the validator set",
		Subcommands: cli.Commands{
			{
				Name:   "add",
				Usage:  "register a new validator",
				Action: validatorAdd,
				Flags: []cli.Flag{
					cli.StringFlag{
						Name:  "address, a",
						Usage: "the on-chain address of the validator",
					},
					cli.StringFlag{
						Name:  "public, p",
						Usage: "hex public key; a fresh keypair is generated when empty",
					},
					cli.Uint64Flag{
						Name:  "stake, s",
						Usage: "the stake of the validator",
					},
				},
			},
			{
				Name:   "deactivate",
				Usage:  "mark a validator as inactive",
				Action: validatorDeactivate,
				Flags: []cli.Flag{
					cli.StringFlag{Name: "address, a"},
				},
			},
			{
				Name:   "trust",
				Usage:  "move the trust score of a validator",
				Action: validatorTrust,
				Flags: []cli.Flag{
					cli.StringFlag{Name: "address, a"},
					cli.IntFlag{
						Name:  "delta, d",
						Usage: "positive or negative score change",
					},
				},
			},
			{
				Name:   "stake",
				Usage:  "set the stake of a validator",
				Action: validatorStake,
				Flags: []cli.Flag{
					cli.StringFlag{Name: "address, a"},
					cli.Uint64Flag{Name: "stake, s"},
				},
			},
		},
	},
	{
		Name:   "chain",
		Usage:  "add a custom chain to the supported set",
		Action: chainAdd,
		Flags: []cli.Flag{
			cli.UintFlag{
				Name:  "number, n",
				Usage: "the number of the custom chain",
			},
		},
	},
	{
		Name:   "config",
		Usage:  "overwrite the numeric configuration values",
		Action: configSet,
		Flags: []cli.Flag{
			cli.UintFlag{
				Name:  "min-confirmations",
				Usage: "validator quorum for messages and attestations",
			},
			cli.DurationFlag{
				Name:  "max-ttl",
				Usage: "cap on the requested message time-to-live",
			},
			cli.DurationFlag{
				Name:  "identity-validity",
				Usage: "lifetime of a verified identity link",
			},
			cli.DurationFlag{
				Name:  "grant-duration",
				Usage: "default lifetime of an access grant",
			},
		},
	},
	{
		Name:  "message",
		Usage: "submit and inspect cross-chain messages",
		Subcommands: cli.Commands{
			{
				Name:   "submit",
				Usage:  "record a new message in the ledger",
				Action: messageSubmit,
				Flags: []cli.Flag{
					cli.StringFlag{
						Name:  "chain, c",
						Usage: "name of the source chain",
					},
					cli.Uint64Flag{Name: "nonce, n"},
					cli.StringFlag{
						Name:  "type, t",
						Usage: "message type, e.g. record_request",
					},
					cli.StringFlag{
						Name:  "payload, p",
						Usage: "hex payload hash",
					},
					cli.DurationFlag{
						Name:  "ttl",
						Value: time.Hour,
					},
				},
			},
			{
				Name:   "confirm",
				Usage:  "confirm a message on behalf of a validator",
				Action: messageConfirm,
				Flags: []cli.Flag{
					cli.StringFlag{
						Name:  "id, i",
						Usage: "hex message ID",
					},
					cli.StringFlag{
						Name:  "address, a",
						Usage: "the validator address",
					},
					cli.StringFlag{
						Name:  "key, k",
						Usage: "hex private key of the validator",
					},
				},
			},
			{
				Name:   "show",
				Usage:  "print a message in any state",
				Action: messageShow,
				Flags: []cli.Flag{
					cli.StringFlag{Name: "id, i"},
				},
			},
		},
	},
	{
		Name:   "audit",
		Usage:  "search the access audit trail",
		Action: auditSearch,
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "patient, p",
				Usage: "the patient to filter on, empty for all",
			},
			cli.Int64Flag{
				Name:  "from",
				Usage: "start of the range, unix seconds",
			},
			cli.Int64Flag{
				Name:  "to",
				Usage: "end of the range, unix seconds, 0 for now",
			},
		},
	},
	{
		Name:   "status",
		Usage:  "print a summary of the bridge state",
		Action: status,
	},
}

func init() {
	network.RegisterMessages(&config{})
}

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "mbadmin"
	cliApp.Usage = "Administrate a medical record bridge."
	cliApp.Version = "0.1"
	cliApp.Commands = cmds
	cliApp.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "debug, d",
			Value: 0,
			Usage: "debug-level: 1 for terse, 5 for maximal",
		},
	}
	cliApp.Before = func(c *cli.Context) error {
		log.SetDebugVisible(c.Int("debug"))
		return nil
	}
	log.ErrFatal(cliApp.Run(os.Args))
}

func doInit(c *cli.Context) error {
	fn := c.String("roster")
	if fn == "" {
		return xerrors.New("-roster flag is required")
	}
	in, err := os.Open(fn)
	if err != nil {
		return xerrors.Errorf("could not open roster %v: %v", fn, err)
	}
	r, err := readRoster(in)
	if err != nil {
		return err
	}

	kp := key.NewKeyPair(medbridge.Suite)
	if err := service.NewClient(r).Init(kp.Public); err != nil {
		return err
	}

	cfg := &config{
		Roster:       r,
		AdminPublic:  kp.Public,
		AdminPrivate: kp.Private,
	}
	if err := cfg.save(); err != nil {
		return err
	}
	fmt.Printf("Bridge initialized, admin key %v.\n", kp.Public)
	return nil
}

func validatorAdd(c *cli.Context) error {
	cfg, cl, err := loadClient()
	if err != nil {
		return err
	}
	addr := c.String("address")
	if addr == "" {
		return xerrors.New("-address flag is required")
	}

	var public kyber.Point
	var private kyber.Scalar
	if pub := c.String("public"); pub != "" {
		public, err = encoding.StringHexToPoint(medbridge.Suite, pub)
		if err != nil {
			return xerrors.Errorf("parsing public key: %v", err)
		}
	} else {
		kp := key.NewKeyPair(medbridge.Suite)
		public, private = kp.Public, kp.Private
	}

	err = cl.AddValidator(cfg.AdminPrivate, addr, public, c.Uint64("stake"))
	if err != nil {
		return err
	}
	fmt.Printf("Validator %v added with key %v.\n", addr, public)
	if private != nil {
		priv, err := encoding.ScalarToStringHex(medbridge.Suite, private)
		if err != nil {
			return err
		}
		fmt.Printf("Private key (give to the validator): %v\n", priv)
	}
	return nil
}

func validatorDeactivate(c *cli.Context) error {
	cfg, cl, err := loadClient()
	if err != nil {
		return err
	}
	addr := c.String("address")
	if err := cl.DeactivateValidator(cfg.AdminPrivate, addr); err != nil {
		return err
	}
	fmt.Printf("Validator %v deactivated.\n", addr)
	return nil
}

func validatorTrust(c *cli.Context) error {
	cfg, cl, err := loadClient()
	if err != nil {
		return err
	}
	score, err := cl.AdjustTrust(cfg.AdminPrivate, c.String("address"),
		int32(c.Int("delta")))
	if err != nil {
		return err
	}
	fmt.Printf("New trust score: %v\n", score)
	return nil
}

func validatorStake(c *cli.Context) error {
	cfg, cl, err := loadClient()
	if err != nil {
		return err
	}
	return cl.AdjustStake(cfg.AdminPrivate, c.String("address"),
		c.Uint64("stake"))
}

func chainAdd(c *cli.Context) error {
	cfg, cl, err := loadClient()
	if err != nil {
		return err
	}
	chain := bridge.CustomChain(uint32(c.Uint("number")))
	if err := cl.AddChain(cfg.AdminPrivate, chain); err != nil {
		return err
	}
	fmt.Printf("Chain %v is now supported.\n", chain)
	return nil
}

func configSet(c *cli.Context) error {
	cfg, cl, err := loadClient()
	if err != nil {
		return err
	}
	return cl.SetConfig(cfg.AdminPrivate, bridge.ConfigValues{
		MinConfirmations:    uint32(c.Uint("min-confirmations")),
		MaxMessageTTLSec:    int64(c.Duration("max-ttl") / time.Second),
		IdentityValiditySec: int64(c.Duration("identity-validity") / time.Second),
		GrantDurationSec:    int64(c.Duration("grant-duration") / time.Second),
	})
}

func messageSubmit(c *cli.Context) error {
	_, cl, err := loadClient()
	if err != nil {
		return err
	}
	chain, ok := bridge.ChainIDByName(c.String("chain"))
	if !ok {
		return xerrors.Errorf("unknown chain %q", c.String("chain"))
	}
	typ, err := messageTypeByName(c.String("type"))
	if err != nil {
		return err
	}
	payload, err := hex.DecodeString(c.String("payload"))
	if err != nil {
		return xerrors.Errorf("parsing payload hash: %v", err)
	}
	reply, err := cl.SubmitMessage(chain, c.Uint64("nonce"), typ, payload,
		c.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Printf("Message submitted with ID %x.\n", reply.MessageID)
	return nil
}

func messageConfirm(c *cli.Context) error {
	_, cl, err := loadClient()
	if err != nil {
		return err
	}
	id, err := hex.DecodeString(c.String("id"))
	if err != nil {
		return xerrors.Errorf("parsing message ID: %v", err)
	}
	priv, err := encoding.StringHexToScalar(medbridge.Suite, c.String("key"))
	if err != nil {
		return xerrors.Errorf("parsing private key: %v", err)
	}
	reply, err := cl.ConfirmMessage(c.String("address"), priv, id)
	if err != nil {
		return err
	}
	fmt.Printf("Message is %v with %v confirmations.\n", reply.State,
		reply.Confirmations)
	return nil
}

func messageShow(c *cli.Context) error {
	_, cl, err := loadClient()
	if err != nil {
		return err
	}
	id, err := hex.DecodeString(c.String("id"))
	if err != nil {
		return xerrors.Errorf("parsing message ID: %v", err)
	}
	msg, err := cl.GetMessage(id)
	if err != nil {
		return err
	}
	fmt.Printf("Message %x:\n  source: %v, nonce %v\n  type: %v\n"+
		"  state: %v with %v confirmations\n  expires: %v\n",
		msg.ID(), msg.SourceChain, msg.Nonce, msg.Type, msg.State,
		len(msg.Confirmations), time.Unix(msg.ExpiresAt, 0))
	return nil
}

func auditSearch(c *cli.Context) error {
	cfg, cl, err := loadClient()
	if err != nil {
		return err
	}
	entries, err := cl.SearchAudit(cfg.AdminPrivate, c.String("patient"),
		c.Int64("from"), c.Int64("to"))
	if err != nil {
		return err
	}
	for _, e := range entries {
		outcome := "refused"
		if e.Success {
			outcome = "allowed"
		}
		fmt.Printf("%v %v record %v of %v by %v/%v: %v\n",
			time.Unix(e.Timestamp, 0).Format(time.RFC3339), e.Action,
			e.RecordID, e.Patient, e.AccessorChain, e.AccessorAddress, outcome)
	}
	return nil
}

func status(c *cli.Context) error {
	_, cl, err := loadClient()
	if err != nil {
		return err
	}
	st, err := cl.Status()
	if err != nil {
		return err
	}
	fmt.Printf("Initialized: %v\nActive validators: %v\n"+
		"Messages: %v pending, %v finalized, %v expired\n"+
		"Quorum: %v confirmations\n",
		st.Initialized, st.ActiveValidators, st.Pending, st.Finalized,
		st.Expired, st.MinConfirmations)
	return nil
}

func messageTypeByName(name string) (bridge.MessageType, error) {
	for t := bridge.RecordRequest; t.Valid(); t++ {
		if t.String() == name {
			return t, nil
		}
	}
	return 0, xerrors.Errorf("unknown message type %q", name)
}

func cfgPath() string {
	dir := cfgpath.GetDataPath("mbadmin")
	if err := os.MkdirAll(dir, 0700); err != nil {
		log.Error(err)
	}
	return filepath.Join(dir, "config.cfg")
}

func (cfg *config) save() error {
	buf, err := network.Marshal(cfg)
	if err != nil {
		return xerrors.Errorf("marshalling config: %v", err)
	}
	return ioutil.WriteFile(cfgPath(), buf, 0600)
}

func loadConfig() (*config, error) {
	buf, err := ioutil.ReadFile(cfgPath())
	if err != nil {
		return nil, xerrors.Errorf("no config found, run 'mbadmin init' first: %v", err)
	}
	_, val, err := network.Unmarshal(buf, medbridge.Suite)
	if err != nil {
		return nil, xerrors.Errorf("unmarshalling config: %v", err)
	}
	cfg, ok := val.(*config)
	if !ok {
		return nil, xerrors.New("config of wrong type")
	}
	return cfg, nil
}

func loadClient() (*config, *service.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return cfg, service.NewClient(cfg.Roster), nil
}

func readRoster(r io.Reader) (*onet.Roster, error) {
	group, err := app.ReadGroupDescToml(r)
	if err != nil {
		return nil, err
	}
	if len(group.Roster.List) == 0 {
		return nil, xerrors.New("empty roster")
	}
	return group.Roster, nil
}
