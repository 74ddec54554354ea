package users

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"strings"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/openkim/KIMkit/pkg/kimerr"
)

// Gate resolves the caller's identity and role and authorizes mutations.
//
// KIMkit has three access levels. The Administrator is the single
// account the operating system grants write access to the editors file.
// An Editor is any OS username listed in that file. A User is anyone
// with a UUID record in the store. Roles are derived on every call,
// never cached: file permissions and the editors list can change
// between calls.
type Gate struct {
	store       *Store
	editorsFile string
	username    string
}

// NewGate creates a Gate acting as the current operating system user.
func NewGate(store *Store, editorsFile string) (*Gate, error) {
	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("resolve current user: %w", err)
	}
	return NewGateAs(store, editorsFile, u.Username), nil
}

// NewGateAs creates a Gate acting as the given OS username. Intended
// for services that authenticate callers themselves, and for tests.
func NewGateAs(store *Store, editorsFile, username string) *Gate {
	return &Gate{store: store, editorsFile: editorsFile, username: username}
}

// Whoami returns the OS username the gate is acting as.
func (g *Gate) Whoami() string { return g.username }

// IsAdministrator reports whether the caller has write access to the
// editors file. The probe is a real open-for-append; a permission
// failure means false.
func (g *Gate) IsAdministrator() bool {
	f, err := os.OpenFile(g.editorsFile, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// IsEditor reports whether the caller's OS username appears in the
// editors file.
func (g *Gate) IsEditor() (bool, error) {
	f, err := os.Open(g.editorsFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read editors file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == g.username {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("read editors file: %w", err)
	}
	return false, nil
}

// IsUserID reports whether the id is a valid UUID assigned to a known
// user. This is the resolver the metadata validator and the provenance
// ledger consult for UUID-reference fields.
func (g *Gate) IsUserID(id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	u, err := g.store.FindByUUID(id)
	if err != nil {
		return false, err
	}
	return u != nil, nil
}

// CurrentUserUUID resolves the caller's OS username to their UUID.
// Returns ErrUnknownUser for callers who have not registered.
func (g *Gate) CurrentUserUUID() (string, error) {
	u, err := g.store.FindByUsername(g.username)
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", fmt.Errorf("%w: username %q has no UUID, register with add-self first", kimerr.ErrUnknownUser, g.username)
	}
	return u.UUID, nil
}

// AddEditor appends an OS username to the editors file. Only the
// Administrator may do this, and must confirm with runAsAdministrator.
func (g *Gate) AddEditor(editorName string, runAsAdministrator bool) error {
	if !g.IsAdministrator() {
		glog.Warningf("user %s attempted to add editor %s without administrator access", g.username, editorName)
		return kimerr.ErrNotAdministrator
	}
	if !runAsAdministrator {
		return kimerr.ErrNotRunAsAdministrator
	}
	f, err := os.OpenFile(g.editorsFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open editors file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(editorName + "\n"); err != nil {
		return fmt.Errorf("append editor: %w", err)
	}
	glog.Infof("the Administrator added %s as a KIMkit editor", editorName)
	return nil
}

// AddSelf registers the caller as a user, allocating a fresh UUID and
// associating it with their OS username. Fails if either the personal
// name or the username already has a UUID.
func (g *Gate) AddSelf(personalName string) (string, error) {
	if err := g.checkUnregistered(personalName); err != nil {
		return "", err
	}
	if existing, err := g.store.FindByUsername(g.username); err != nil {
		return "", err
	} else if existing != nil {
		return "", fmt.Errorf("username %q already has UUID %s", g.username, existing.UUID)
	}
	id := uuid.NewString()
	if err := g.store.Insert(&User{UUID: id, PersonalName: personalName, Username: g.username}); err != nil {
		return "", err
	}
	glog.Infof("new user %s (username %s) assigned UUID %s", personalName, g.username, id)
	return id, nil
}

// AddPerson allocates a UUID for someone without an account on this
// system, so their contributions can be credited in item metadata.
func (g *Gate) AddPerson(personalName string) (string, error) {
	if err := g.checkUnregistered(personalName); err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := g.store.Insert(&User{UUID: id, PersonalName: personalName}); err != nil {
		return "", err
	}
	glog.Infof("new user %s assigned UUID %s", personalName, id)
	return id, nil
}

func (g *Gate) checkUnregistered(personalName string) error {
	existing, err := g.store.FindByName(personalName)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("user %q already has UUID %s", personalName, existing.UUID)
	}
	return nil
}

// AddOwnUsername attaches the caller's OS username to an existing UUID
// record that was created before they had an account here.
func (g *Gate) AddOwnUsername(id string) error {
	u, err := g.store.FindByUUID(id)
	if err != nil {
		return err
	}
	if u == nil {
		return fmt.Errorf("%w: uuid %s", kimerr.ErrUnknownUser, id)
	}
	u.Username = g.username
	return g.store.Update(u)
}

// DeleteUser removes a user record. Requires Editor permissions with
// the runAsEditor confirmation.
func (g *Gate) DeleteUser(id string, runAsEditor bool) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q is not a valid UUID", kimerr.ErrUnknownUser, id)
	}
	editor, err := g.IsEditor()
	if err != nil {
		return err
	}
	if !editor {
		glog.Warningf("user %s attempted to delete user %s without editor access", g.username, id)
		return kimerr.ErrNotAnEditor
	}
	if !runAsEditor {
		return kimerr.ErrNotRunAsEditor
	}
	if err := g.store.Delete(id); err != nil {
		return err
	}
	glog.Infof("user %s deleted from KIMkit approved users", id)
	return nil
}

// DropUserStore deletes every user record. Administrator only, with the
// runAsAdministrator confirmation.
func (g *Gate) DropUserStore(runAsAdministrator bool) error {
	if !g.IsAdministrator() {
		return kimerr.ErrNotAdministrator
	}
	if !runAsAdministrator {
		return kimerr.ErrNotRunAsAdministrator
	}
	return g.store.DropAll()
}

// AuthorizeMutation decides whether the acting user may mutate an item
// owned by the given contributor and maintainer. Owners may always
// mutate their own items; Editors may mutate anything but must confirm
// with runAsEditor.
func (g *Gate) AuthorizeMutation(actingUUID, contributorID, maintainerID string, runAsEditor bool) error {
	if actingUUID != "" && (actingUUID == contributorID || actingUUID == maintainerID) {
		return nil
	}
	editor, err := g.IsEditor()
	if err != nil {
		return err
	}
	if !editor {
		glog.Warningf("user %s (uuid %s) denied mutation of item owned by %s", g.username, actingUUID, contributorID)
		return kimerr.ErrNotAnEditor
	}
	if !runAsEditor {
		return kimerr.ErrNotRunAsEditor
	}
	return nil
}
