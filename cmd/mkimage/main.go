// Command mkimage builds the boot ramfs image (spec.md §2: "mounts
// ramfs at / (populated from an embedded USTAR image)") from a
// declarative manifest instead of walking a fixed host directory,
// generalizing biscuit/src/mkfs/mkfs.go's addfiles/copydata host-walk
// into a yaml.v3-described file list so the image's contents are
// reviewable without a skeleton directory checked into the repo.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"hankernel/ustar"
)

// ManifestEntry is one line of the YAML manifest: a destination path
// inside the image plus either a host file to embed (Source) or,
// for directories and symlinks, no Source (Dir, or a Symlink target).
type ManifestEntry struct {
	Path    string `yaml:"path"`
	Source  string `yaml:"source,omitempty"`
	Dir     bool   `yaml:"dir,omitempty"`
	Symlink string `yaml:"symlink,omitempty"`
	Mode    uint32 `yaml:"mode,omitempty"`
}

// Manifest is the top-level YAML document mkimage reads.
type Manifest struct {
	Entries []ManifestEntry `yaml:"entries"`
}

// LoadManifest parses a YAML manifest from data.
func LoadManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("mkimage: parsing manifest: %w", err)
	}
	return m, nil
}

const defaultMode = 0644
const defaultDirMode = 0755

// Build reads every Source file named in m relative to baseDir and
// returns the USTAR archive bytes mounted as the boot ramfs (spec.md
// §2/§6). Entries are emitted in manifest order and are not reordered,
// so fs/ramfs.Populate's directories-first requirement holds only when
// the manifest lists each directory before the files it contains.
func Build(m Manifest, baseDir string) ([]byte, error) {
	entries := make([]ustar.Entry, 0, len(m.Entries))
	for _, me := range m.Entries {
		mode := me.Mode
		switch {
		case me.Dir:
			if mode == 0 {
				mode = defaultDirMode
			}
			entries = append(entries, ustar.Entry{
				Name: me.Path,
				Type: ustar.TypeFolder,
				Mode: mode,
			})
		case me.Symlink != "":
			entries = append(entries, ustar.Entry{
				Name:     me.Path,
				Type:     ustar.TypeSymlink,
				Mode:     mode,
				Linkname: me.Symlink,
			})
		default:
			if mode == 0 {
				mode = defaultMode
			}
			data, err := os.ReadFile(filepath.Join(baseDir, me.Source))
			if err != nil {
				return nil, fmt.Errorf("mkimage: reading %q: %w", me.Source, err)
			}
			entries = append(entries, ustar.Entry{
				Name: me.Path,
				Type: ustar.TypeFile,
				Mode: mode,
				Data: data,
			})
		}
	}
	return ustar.Write(entries), nil
}

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "usage: %s <manifest.yaml> <out.img>\n", os.Args[0])
		os.Exit(1)
	}
	manifestPath, outPath := os.Args[1], os.Args[2]

	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	m, err := LoadManifest(raw)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	img, err := Build(m, filepath.Dir(manifestPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := os.WriteFile(outPath, img, 0644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
