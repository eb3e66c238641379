package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	tinyfs "github.com/tinyfs/go-tinyfs"
	"github.com/tinyfs/go-tinyfs/blockdev"
	"github.com/tinyfs/go-tinyfs/filesystem/tfs"
	"github.com/tinyfs/go-tinyfs/snapshot"
)

func sortedCommands() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {}
	return fs
}

// parse parses args and checks exactly want positional arguments remain
func parse(set *flag.FlagSet, args []string, want int) ([]string, error) {
	if err := set.Parse(args); err != nil {
		return nil, usageError{}
	}
	if set.NArg() != want {
		return nil, usageError{}
	}
	return set.Args(), nil
}

func logger() *log.Entry {
	return log.StandardLogger().WithField("fs", "tfs")
}

var (
	// stdout receives command output
	stdout io.Writer = os.Stdout
	// createMissing formats images that do not exist yet with default geometry
	createMissing bool
)

// withFS opens image, runs fn and closes the filesystem again
func withFS(image string, fn func(fs *tfs.FileSystem) error) (err error) {
	opts := []tinyfs.OpenOpt{tinyfs.WithLogger(logger())}
	if createMissing {
		opts = append(opts, tinyfs.WithCreateIfMissing(tinyfs.DefaultImageSize, &tfs.Params{
			UID: uint32(os.Getuid()),
			GID: uint32(os.Getgid()),
		}))
	}
	fs, err := tinyfs.Open(image, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := fs.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(fs)
}

func runMkfs(image string, args []string) error {
	set := newFlagSet("mkfs")
	size := set.Int64("size", tinyfs.DefaultImageSize, "image size in bytes")
	blockSize := set.Uint("block-size", uint(blockdev.DefaultBlockSize), "block size in bytes")
	inodes := set.Uint("inodes", uint(tfs.DefaultMaxInodes), "number of inodes, root directory included")
	dataBlocks := set.Uint("data-blocks", 0, "number of data blocks, 0 for as many as fit")
	label := set.String("label", "", "volume label")
	id := set.String("uuid", "", "volume uuid, random if empty")
	if _, err := parse(set, args, 0); err != nil {
		return err
	}
	p := &tfs.Params{
		MaxInodes:     uint32(*inodes),
		MaxDataBlocks: uint32(*dataBlocks),
		Label:         *label,
		UID:           uint32(os.Getuid()),
		GID:           uint32(os.Getgid()),
	}
	if *id != "" {
		u, err := uuid.Parse(*id)
		if err != nil {
			return fmt.Errorf("invalid uuid %q: %w", *id, err)
		}
		p.UUID = &u
	}
	fs, err := tinyfs.Create(image, *size, p, tinyfs.WithBlockSize(uint32(*blockSize)), tinyfs.WithLogger(logger()))
	if err != nil {
		return err
	}
	log.Infof("created %s with volume uuid %s", image, fs.UUID())
	return fs.Close()
}

func runInfo(image string, args []string) error {
	if _, err := parse(newFlagSet("info"), args, 0); err != nil {
		return err
	}
	return withFS(image, func(fs *tfs.FileSystem) error {
		st, err := fs.StatFS()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(stdout, 0, 4, 1, ' ', 0)
		fmt.Fprintf(w, "uuid:\t%s\n", fs.UUID())
		fmt.Fprintf(w, "label:\t%s\n", fs.Label())
		fmt.Fprintf(w, "created:\t%s\n", st.Created.Format(time.RFC3339))
		fmt.Fprintf(w, "block size:\t%d\n", st.BlockSize)
		fmt.Fprintf(w, "inodes:\t%d free of %d\n", st.FreeInodes, st.Inodes)
		fmt.Fprintf(w, "data blocks:\t%d free of %d\n", st.FreeDataBlocks, st.DataBlocks)
		fmt.Fprintf(w, "max file size:\t%d\n", st.MaxFileSize)
		// timestamps only make sense for image files
		if info, err := blockdev.Stat(image); err == nil {
			fmt.Fprintf(w, "image size:\t%d\n", info.Size)
			fmt.Fprintf(w, "image modified:\t%s\n", info.Modified.Format(time.RFC3339))
			fmt.Fprintf(w, "image accessed:\t%s\n", info.Accessed.Format(time.RFC3339))
			if !info.Born.IsZero() {
				fmt.Fprintf(w, "image born:\t%s\n", info.Born.Format(time.RFC3339))
			}
		}
		return w.Flush()
	})
}

func runLs(image string, args []string) error {
	set := newFlagSet("ls")
	if err := set.Parse(args); err != nil || set.NArg() > 1 {
		return usageError{}
	}
	p := "/"
	if set.NArg() == 1 {
		p = set.Arg(0)
	}
	return withFS(image, func(fs *tfs.FileSystem) error {
		entries, err := fs.List(p)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(stdout, 0, 4, 1, ' ', 0)
		for _, e := range entries {
			kind := "-"
			if e.IsDir {
				kind = "d"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", e.Inode, kind, e.Name)
		}
		return w.Flush()
	})
}

func runStat(image string, args []string) error {
	rest, err := parse(newFlagSet("stat"), args, 1)
	if err != nil {
		return err
	}
	return withFS(image, func(fs *tfs.FileSystem) error {
		info, err := fs.Stat(rest[0])
		if err != nil {
			return err
		}
		attr := info.Sys().(*tfs.Attributes)
		w := tabwriter.NewWriter(stdout, 0, 4, 1, ' ', 0)
		fmt.Fprintf(w, "name:\t%s\n", info.Name())
		fmt.Fprintf(w, "inode:\t%d\n", attr.Inode)
		fmt.Fprintf(w, "mode:\t%s\n", info.Mode())
		fmt.Fprintf(w, "links:\t%d\n", attr.Links)
		fmt.Fprintf(w, "owner:\t%d:%d\n", attr.UID, attr.GID)
		fmt.Fprintf(w, "size:\t%d\n", info.Size())
		fmt.Fprintf(w, "blocks:\t%d\n", attr.Blocks)
		fmt.Fprintf(w, "accessed:\t%s\n", attr.AccessTime.Format(time.RFC3339Nano))
		fmt.Fprintf(w, "modified:\t%s\n", info.ModTime().Format(time.RFC3339Nano))
		fmt.Fprintf(w, "changed:\t%s\n", attr.ChangeTime.Format(time.RFC3339Nano))
		return w.Flush()
	})
}

func parseMode(s string) (os.FileMode, error) {
	m, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q: %w", s, err)
	}
	return os.FileMode(m).Perm(), nil
}

func runMkdir(image string, args []string) error {
	set := newFlagSet("mkdir")
	mode := set.String("mode", "755", "permission bits, octal")
	rest, err := parse(set, args, 1)
	if err != nil {
		return err
	}
	perm, err := parseMode(*mode)
	if err != nil {
		return err
	}
	return withFS(image, func(fs *tfs.FileSystem) error {
		return fs.Mkdir(rest[0], perm)
	})
}

func runRmdir(image string, args []string) error {
	rest, err := parse(newFlagSet("rmdir"), args, 1)
	if err != nil {
		return err
	}
	return withFS(image, func(fs *tfs.FileSystem) error {
		return fs.Rmdir(rest[0])
	})
}

func runTouch(image string, args []string) error {
	set := newFlagSet("touch")
	mode := set.String("mode", "644", "permission bits, octal")
	rest, err := parse(set, args, 1)
	if err != nil {
		return err
	}
	perm, err := parseMode(*mode)
	if err != nil {
		return err
	}
	return withFS(image, func(fs *tfs.FileSystem) error {
		if _, err := fs.Stat(rest[0]); err == nil {
			now := time.Now()
			return fs.Utimes(rest[0], now, now)
		}
		return fs.Create(rest[0], perm)
	})
}

func runRm(image string, args []string) error {
	rest, err := parse(newFlagSet("rm"), args, 1)
	if err != nil {
		return err
	}
	return withFS(image, func(fs *tfs.FileSystem) error {
		return fs.Remove(rest[0])
	})
}

func runWrite(image string, args []string) error {
	set := newFlagSet("write")
	offset := set.Int64("offset", 0, "byte offset to write at")
	data := set.String("data", "", "text to write instead of reading stdin")
	rest, err := parse(set, args, 1)
	if err != nil {
		return err
	}
	dataSet := false
	set.Visit(func(f *flag.Flag) {
		if f.Name == "data" {
			dataSet = true
		}
	})
	b, err := readInput(*data, dataSet)
	if err != nil {
		return err
	}
	return withFS(image, func(fs *tfs.FileSystem) error {
		if _, err := fs.Stat(rest[0]); err != nil {
			if err := fs.Create(rest[0], 0o644); err != nil {
				return err
			}
		}
		n, err := fs.WriteBytes(rest[0], *offset, b)
		if err != nil {
			return err
		}
		log.Infof("wrote %d bytes to %s", n, rest[0])
		return nil
	})
}

func runCat(image string, args []string) error {
	set := newFlagSet("cat")
	offset := set.Int64("offset", 0, "byte offset to read from")
	length := set.Int("length", -1, "bytes to read, -1 for the rest of the file")
	rest, err := parse(set, args, 1)
	if err != nil {
		return err
	}
	return withFS(image, func(fs *tfs.FileSystem) error {
		n := *length
		if n < 0 {
			info, err := fs.Stat(rest[0])
			if err != nil {
				return err
			}
			n = int(info.Size())
		}
		b, err := fs.ReadBytes(rest[0], *offset, n)
		if err != nil {
			return err
		}
		_, err = stdout.Write(b)
		return err
	})
}

func runTruncate(image string, args []string) error {
	rest, err := parse(newFlagSet("truncate"), args, 2)
	if err != nil {
		return err
	}
	size, err := strconv.ParseInt(rest[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", rest[1], err)
	}
	return withFS(image, func(fs *tfs.FileSystem) error {
		return fs.Truncate(rest[0], size)
	})
}

func runChmod(image string, args []string) error {
	rest, err := parse(newFlagSet("chmod"), args, 2)
	if err != nil {
		return err
	}
	perm, err := parseMode(rest[0])
	if err != nil {
		return err
	}
	return withFS(image, func(fs *tfs.FileSystem) error {
		return fs.Chmod(rest[1], perm)
	})
}

func runCompact(image string, args []string) error {
	rest, err := parse(newFlagSet("compact"), args, 1)
	if err != nil {
		return err
	}
	return withFS(image, func(fs *tfs.FileSystem) error {
		n, err := fs.Compact(rest[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "released %d blocks\n", n)
		return nil
	})
}

func runSnapshot(image string, args []string) error {
	set := newFlagSet("snapshot")
	name := set.String("compressor", "zstd", "chunk compression")
	rest, err := parse(set, args, 1)
	if err != nil {
		return err
	}
	c, err := snapshot.CompressorByName(*name)
	if err != nil {
		return err
	}
	dev, err := tinyfs.OpenDevice(image, tinyfs.WithLogger(logger()))
	if err != nil {
		return err
	}
	defer dev.Close()
	out, err := os.Create(rest[0])
	if err != nil {
		return err
	}
	if err := snapshot.Write(out, dev, c); err != nil {
		_ = out.Close()
		return err
	}
	log.Infof("wrote %d blocks of %s to %s", dev.Blocks(), image, rest[0])
	return out.Close()
}

func runRestore(image string, args []string) error {
	rest, err := parse(newFlagSet("restore"), args, 1)
	if err != nil {
		return err
	}
	in, err := os.Open(rest[0])
	if err != nil {
		return err
	}
	defer in.Close()
	h, err := snapshot.ReadHeader(in)
	if err != nil {
		return err
	}
	dev, err := blockdev.CreateImage(image, h.BlockSize, h.Blocks)
	if err != nil {
		return err
	}
	if err := snapshot.Restore(in, h, dev); err != nil {
		_ = dev.Close()
		return err
	}
	log.Infof("restored %d blocks (%s) to %s", h.Blocks, h.Compression(), image)
	return dev.Close()
}
