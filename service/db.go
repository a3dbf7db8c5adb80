package service

import (
	"sync"

	"github.com/medchain/medbridge/access"
	"github.com/medchain/medbridge/atomic"
	"github.com/medchain/medbridge/bridge"
	"github.com/medchain/medbridge/identity"
	"github.com/medchain/medbridge/validator"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

const dbVersion = 1

// storageKey reflects the data we're storing - we could store more
// than one structure.
var storageKey = []byte("storage")

// storage holds what the bridge keeps between restarts, apart from the
// message ledger and the audit trail, which live in their own bbolt buckets.
type storage struct {
	Config       *bridge.Config
	Validators   *validator.Registry
	Transactions *atomic.Manager
	Links        *identity.Registry
	Grants       *access.Manager

	sync.Mutex
}

// saves all data.
func (s *Service) save() error {
	s.storage.Lock()
	defer s.storage.Unlock()
	err := s.Save(storageKey, s.storage)
	if err != nil {
		log.Error("Couldn't save data:", err)
		return err
	}
	return nil
}

// Tries to load the configuration and updates the data in the service
// if it finds a valid config-file.
func (s *Service) tryLoad() error {
	s.storage = &storage{}
	ver, err := s.LoadVersion()
	if err != nil {
		return err
	}

	// Make sure we don't have any unallocated sub-structures.
	defer func() {
		if s.storage.Config == nil {
			s.storage.Config = bridge.NewConfig()
		}
		if s.storage.Validators == nil {
			s.storage.Validators = validator.NewRegistry()
		} else if s.storage.Validators.Validators == nil {
			s.storage.Validators.Validators = make(map[string]*validator.Validator)
		}
		if s.storage.Transactions == nil {
			s.storage.Transactions = atomic.NewManager()
		} else if s.storage.Transactions.Transactions == nil {
			s.storage.Transactions.Transactions = make(map[string]*atomic.Transaction)
		}
		if s.storage.Links == nil {
			s.storage.Links = identity.NewRegistry()
		} else if s.storage.Links.Links == nil {
			s.storage.Links.Links = make(map[string]*identity.Link)
		}
		if s.storage.Grants == nil {
			s.storage.Grants = access.NewManager()
		} else if s.storage.Grants.Grants == nil {
			s.storage.Grants.Grants = make(map[string]*access.Grant)
		}
	}()

	// In the future, we'll make database upgrades below.
	if ver < dbVersion {
		// There is no version 0. Save empty storage and update version number.
		if err = s.save(); err != nil {
			return err
		}
		return s.SaveVersion(dbVersion)
	}
	msg, err := s.Load(storageKey)
	if err != nil {
		return err
	}
	if msg == nil {
		return nil
	}
	var ok bool
	s.storage, ok = msg.(*storage)
	if !ok {
		return xerrors.New("data of wrong type")
	}
	return nil
}
