package catalog

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/exp/mmap"

	"github.com/downfa11-org/go-archiver/pkg/layout"
	"github.com/downfa11-org/go-archiver/pkg/types"
	"github.com/downfa11-org/go-archiver/util"
)

// One fixed-size metadata record per stream instance, named <instanceID>.meta
// in the archive directory. BigEndian throughout, matching the frame codec.
//
//	[0:4)   magic "ARCH"       [16:20) initialTermID
//	[4:8)   version            [20:24) initialTermOffset
//	[8:12)  reserved           [24:28) lastTermID
//	[12:16) termBufferLength   [28:32) lastTermOffset
const (
	MetadataFileSize = 128

	metadataMagic   uint32 = 0x41524348 // "ARCH"
	metadataVersion uint32 = 1

	magicFieldOffset             = 0
	versionFieldOffset           = 4
	termBufferLengthFieldOffset  = 12
	initialTermIDFieldOffset     = 16
	initialTermOffsetFieldOffset = 20
	lastTermIDFieldOffset        = 24
	lastTermOffsetFieldOffset    = 28
)

// Catalog assigns stream instance identities and persists their segment
// descriptors. Instance ids survive restarts: the directory is scanned for
// existing metadata files at construction and the counter resumes past them.
type Catalog struct {
	mu         sync.Mutex
	dir        string
	nextID     int32
	registered map[int32]types.StreamKey
}

func NewCatalog(dir string) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory %s: %w", dir, err)
	}

	c := &Catalog{
		dir:        dir,
		registered: make(map[int32]types.StreamKey),
	}
	if err := c.recoverNextID(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) recoverNextID() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("failed to scan archive directory %s: %w", c.dir, err)
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".meta") {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSuffix(name, ".meta"), 10, 32)
		if err != nil {
			util.Warn("ignoring unrecognized metadata file %s", name)
			continue
		}
		if int32(id) >= c.nextID {
			c.nextID = int32(id) + 1
		}
	}
	return nil
}

// AddNewStreamInstance registers a new captured occurrence of key and
// persists its initial descriptor. A re-appearing stream gets a fresh
// instance id; ids are never reused.
func (c *Catalog) AddNewStreamInstance(key types.StreamKey, termBufferLength, initialTermID int32) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	desc := types.SegmentDescriptor{
		TermBufferLength: termBufferLength,
		InitialTermID:    initialTermID,
		LastTermID:       initialTermID,
	}
	if err := c.writeDescriptor(id, desc); err != nil {
		return 0, err
	}

	c.nextID++
	c.registered[id] = key
	util.Debug("registered stream instance %d for %s/%d %s/%d",
		id, key.Source, key.SessionID, key.Channel, key.StreamID)
	return id, nil
}

// UpdateMetadata rewrites the persisted descriptor for instanceID with the
// final capture extents.
func (c *Catalog) UpdateMetadata(instanceID int32, desc types.SegmentDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeDescriptor(instanceID, desc)
}

func (c *Catalog) writeDescriptor(instanceID int32, desc types.SegmentDescriptor) error {
	path := filepath.Join(c.dir, layout.MetadataFileName(instanceID))

	buf := make([]byte, MetadataFileSize)
	binary.BigEndian.PutUint32(buf[magicFieldOffset:], metadataMagic)
	binary.BigEndian.PutUint32(buf[versionFieldOffset:], metadataVersion)
	binary.BigEndian.PutUint32(buf[termBufferLengthFieldOffset:], uint32(desc.TermBufferLength))
	binary.BigEndian.PutUint32(buf[initialTermIDFieldOffset:], uint32(desc.InitialTermID))
	binary.BigEndian.PutUint32(buf[initialTermOffsetFieldOffset:], uint32(desc.InitialTermOffset))
	binary.BigEndian.PutUint32(buf[lastTermIDFieldOffset:], uint32(desc.LastTermID))
	binary.BigEndian.PutUint32(buf[lastTermOffsetFieldOffset:], uint32(desc.LastTermOffset))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open metadata file %s: %w", path, err)
	}
	if _, err := f.WriteAt(buf, 0); err != nil {
		if cerr := f.Close(); cerr != nil {
			util.Error("close metadata file after failed write: %v", cerr)
		}
		return fmt.Errorf("failed to write metadata file %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		util.Error("sync metadata file %s failed: %v", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close metadata file %s: %w", path, err)
	}
	return nil
}

// LoadDescriptor reads the persisted descriptor for instanceID. Replay
// construction resolves its default extent through this record.
func (c *Catalog) LoadDescriptor(instanceID int32) (types.SegmentDescriptor, error) {
	path := filepath.Join(c.dir, layout.MetadataFileName(instanceID))

	reader, err := mmap.Open(path)
	if err != nil {
		return types.SegmentDescriptor{}, fmt.Errorf("failed to open metadata file %s: %w", path, err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			util.Error("close metadata reader for %s: %v", path, err)
		}
	}()

	buf := make([]byte, MetadataFileSize)
	if _, err := reader.ReadAt(buf, 0); err != nil {
		return types.SegmentDescriptor{}, fmt.Errorf("failed to read metadata file %s: %w", path, err)
	}

	if magic := binary.BigEndian.Uint32(buf[magicFieldOffset:]); magic != metadataMagic {
		return types.SegmentDescriptor{}, fmt.Errorf("metadata file %s has bad magic 0x%08x", path, magic)
	}
	if version := binary.BigEndian.Uint32(buf[versionFieldOffset:]); version != metadataVersion {
		return types.SegmentDescriptor{}, fmt.Errorf("metadata file %s has unsupported version %d", path, version)
	}

	return types.SegmentDescriptor{
		TermBufferLength:  int32(binary.BigEndian.Uint32(buf[termBufferLengthFieldOffset:])),
		InitialTermID:     int32(binary.BigEndian.Uint32(buf[initialTermIDFieldOffset:])),
		InitialTermOffset: int32(binary.BigEndian.Uint32(buf[initialTermOffsetFieldOffset:])),
		LastTermID:        int32(binary.BigEndian.Uint32(buf[lastTermIDFieldOffset:])),
		LastTermOffset:    int32(binary.BigEndian.Uint32(buf[lastTermOffsetFieldOffset:])),
	}, nil
}

// StreamKey returns the identity registered for instanceID in this process,
// if any. Identities are not persisted; the descriptor record carries only
// layout and extent fields.
func (c *Catalog) StreamKey(instanceID int32) (types.StreamKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, ok := c.registered[instanceID]
	return key, ok
}

func (c *Catalog) Dir() string {
	return c.dir
}
