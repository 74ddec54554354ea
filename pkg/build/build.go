// Package build defines the boundary to the KIM API build toolchain.
// KIMkit tracks and stores items; compiling them into a simulator
// collection is delegated to an external collections manager.
package build

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/golang/glog"

	"github.com/openkim/KIMkit/pkg/kimcode"
)

// Builder compiles an installed item so simulators can load it.
type Builder interface {
	Build(ctx context.Context, itemPath string, itemType kimcode.ItemType) error
}

// DefaultCommand is the KIM API collections manager invoked per item.
const DefaultCommand = "kim-api-collections-management"

// ExecBuilder shells out to the KIM API collections manager.
type ExecBuilder struct {
	// Command overrides DefaultCommand, mainly for tests.
	Command string
	// Collection selects the target collection (user, system, ...).
	Collection string
}

// NewExecBuilder returns an ExecBuilder installing into the given
// collection, "user" if empty.
func NewExecBuilder(collection string) *ExecBuilder {
	if collection == "" {
		collection = "user"
	}
	return &ExecBuilder{Command: DefaultCommand, Collection: collection}
}

// Build runs `<command> install <collection> <itemPath>`. Model drivers
// and models go through the same entry point; the collections manager
// dispatches on the item's own build files.
func (b *ExecBuilder) Build(ctx context.Context, itemPath string, itemType kimcode.ItemType) error {
	command := b.Command
	if command == "" {
		command = DefaultCommand
	}
	cmd := exec.CommandContext(ctx, command, "install", b.Collection, itemPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("build %s (%s): %w: %s", itemPath, itemType, err, output)
	}
	glog.Infof("built %s %s into the %s collection", itemType, itemPath, b.Collection)
	return nil
}

// NoopBuilder records build requests without running anything. Used in
// tests and on hosts without the KIM API toolchain.
type NoopBuilder struct {
	Built []string
}

func (b *NoopBuilder) Build(_ context.Context, itemPath string, _ kimcode.ItemType) error {
	b.Built = append(b.Built, itemPath)
	return nil
}
