package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/streamrelay/ipxcore/pkg/btree"
	"github.com/streamrelay/ipxcore/pkg/obslog"
)

func newCompactCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compact <index-file>",
		Short: "rewrite a BTreeStore index file, reclaiming copy-on-write garbage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompact(args[0])
		},
	}
}

// stringBytesCodec is the generic string-key/raw-bytes-value Codec the CLI
// uses for ad hoc index maintenance, independent of whatever concrete
// key/value types a particular deployment's index stores (the schema
// itself is a deployment concern, out of this module's scope).
func stringBytesCodec() btree.Codec[string, []byte] {
	return btree.Codec[string, []byte]{
		CompareKey: func(a, b string) int {
			switch {
			case a < b:
				return -1
			case a > b:
				return 1
			default:
				return 0
			}
		},
		EncodeKey:   func(k string) []byte { return []byte(k) },
		DecodeKey:   func(b []byte) (string, error) { return string(b), nil },
		EncodeValue: func(v []byte) []byte { return v },
		DecodeValue: func(b []byte) ([]byte, error) { return b, nil },
	}
}

func runCompact(path string) error {
	log := obslog.New("ipxcored")
	h, err := btree.OpenUpdate(path, stringBytesCodec(), btree.DefaultCacheCapacity)
	if err != nil {
		return fmt.Errorf("opening %s for compaction: %w", path, err)
	}
	defer h.Close()

	if err := h.Compact(path); err != nil {
		return fmt.Errorf("compacting %s: %w", path, err)
	}
	log.Info("compacted %s", path)
	return nil
}
