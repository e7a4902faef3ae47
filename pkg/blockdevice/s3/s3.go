// Package s3 implements a remote blockdevice.Device backed by Amazon S3 (or
// an S3-compatible store), registered under the "s3" scheme: aws-sdk-go-v2
// config and credentials loading, one *s3.Client per device.
//
// Each logical block is stored as a single object keyed by
// "{keyPrefix}/block-{blockIdx}". Unlike the in-memory fixture this backend
// is a plausible stand-in for a genuinely remote replica: reads and writes
// incur a round trip, so it exercises the Nexus's handling of a "remote"
// child in the rebuild source-preference rule (local-preferred).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nexus-project/nexus/pkg/blockdevice"
	"github.com/nexus-project/nexus/pkg/nexuserr"
)

func init() {
	blockdevice.Register("s3", open)
}

// Device is a remote block device backed by one object per block in an S3
// bucket.
type Device struct {
	uri       string
	client    *s3.Client
	bucket    string
	keyPrefix string
	blockLen  uint32
	numBlocks uint64
}

func open(ctx context.Context, rawURI string) (blockdevice.Device, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if err := blockdevice.RejectUnknownParams(q, "blk_size", "size_mb", "region", "endpoint", "uuid"); err != nil {
		return nil, err
	}

	blockLen := uint32(4096)
	if raw := q.Get("blk_size"); raw != "" {
		blockLen, err = blockdevice.ParseBlockSize(raw)
		if err != nil {
			return nil, err
		}
	}

	sizeMB := uint64(1024)
	if raw := q.Get("size_mb"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &sizeMB); err != nil {
			return nil, nexuserr.Wrap("s3.open", nexuserr.InvalidArguments, raw, err)
		}
	}
	numBlocks := (sizeMB * 1024 * 1024) / uint64(blockLen)

	bucket := u.Host
	keyPrefix := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || keyPrefix == "" {
		return nil, nexuserr.New("s3.open", nexuserr.InvalidArguments,
			"s3 uri must be s3://bucket/key-prefix")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, nexuserr.Wrap("s3.open", nexuserr.OpenChild, "load aws config", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if region := q.Get("region"); region != "" {
			o.Region = region
		}
		if endpoint := q.Get("endpoint"); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &Device{
		uri:       rawURI,
		client:    client,
		bucket:    bucket,
		keyPrefix: keyPrefix,
		blockLen:  blockLen,
		numBlocks: numBlocks,
	}, nil
}

func (d *Device) URI() string { return d.uri }

func (d *Device) Open(_ context.Context, _ bool) (blockdevice.Handle, error) {
	return &handle{dev: d}, nil
}

func (d *Device) blockKey(blockIdx uint64) string {
	return fmt.Sprintf("%s/block-%d", d.keyPrefix, blockIdx)
}

type handle struct {
	dev    *Device
	closed atomic.Bool
	stats  struct {
		readOps, writeOps, bytesRead, bytesWritten, readErrs, writeErrs atomic.Uint64
	}
}

func (h *handle) blockRange(offset uint64, length int) (startBlock, endBlock uint64) {
	bl := uint64(h.dev.blockLen)
	return offset / bl, (offset + uint64(length) - 1) / bl
}

func (h *handle) ReadAt(ctx context.Context, offset uint64, buf []byte) error {
	if h.closed.Load() {
		return nexuserr.New("s3.ReadAt", nexuserr.ReadIoError, "handle closed")
	}
	if !blockdevice.IsAligned(offset, len(buf), h.dev.blockLen) {
		h.stats.readErrs.Add(1)
		return nexuserr.New("s3.ReadAt", nexuserr.InvalidOffset, "offset/length not block-aligned")
	}

	start, end := h.blockRange(offset, len(buf))
	bl := int(h.dev.blockLen)
	for blockIdx := start; blockIdx <= end; blockIdx++ {
		out, err := h.dev.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(h.dev.bucket),
			Key:    aws.String(h.dev.blockKey(blockIdx)),
		})
		dst := buf[(blockIdx-start)*uint64(bl) : (blockIdx-start+1)*uint64(bl)]
		if err != nil {
			var nf *types.NoSuchKey
			if errors.As(err, &nf) {
				// unwritten block reads as zero-filled (sparse device)
				for i := range dst {
					dst[i] = 0
				}
				continue
			}
			h.stats.readErrs.Add(1)
			return nexuserr.Wrap("s3.ReadAt", nexuserr.ReadIoError, h.dev.blockKey(blockIdx), err)
		}
		n, err := io.ReadFull(out.Body, dst)
		out.Body.Close()
		if err != nil {
			h.stats.readErrs.Add(1)
			return nexuserr.Wrap("s3.ReadAt", nexuserr.ReadIoError, h.dev.blockKey(blockIdx), err)
		}
		h.stats.bytesRead.Add(uint64(n))
	}
	h.stats.readOps.Add(1)
	return nil
}

func (h *handle) WriteAt(ctx context.Context, offset uint64, buf []byte) error {
	if h.closed.Load() {
		return nexuserr.New("s3.WriteAt", nexuserr.WriteIoError, "handle closed")
	}
	if !blockdevice.IsAligned(offset, len(buf), h.dev.blockLen) {
		h.stats.writeErrs.Add(1)
		return nexuserr.New("s3.WriteAt", nexuserr.InvalidOffset, "offset/length not block-aligned")
	}

	start, end := h.blockRange(offset, len(buf))
	bl := int(h.dev.blockLen)
	for blockIdx := start; blockIdx <= end; blockIdx++ {
		chunk := buf[(blockIdx-start)*uint64(bl) : (blockIdx-start+1)*uint64(bl)]
		_, err := h.dev.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(h.dev.bucket),
			Key:    aws.String(h.dev.blockKey(blockIdx)),
			Body:   bytes.NewReader(chunk),
		})
		if err != nil {
			h.stats.writeErrs.Add(1)
			return nexuserr.Wrap("s3.WriteAt", nexuserr.WriteIoError, h.dev.blockKey(blockIdx), err)
		}
		h.stats.bytesWritten.Add(uint64(len(chunk)))
	}
	h.stats.writeOps.Add(1)
	return nil
}

func (h *handle) Reset(_ context.Context) error { return nil }
func (h *handle) Flush(_ context.Context) error { return nil }

func (h *handle) SizeInBytes() uint64 { return h.dev.numBlocks * uint64(h.dev.blockLen) }
func (h *handle) BlockLen() uint32    { return h.dev.blockLen }
func (h *handle) NumBlocks() uint64   { return h.dev.numBlocks }
func (h *handle) Alignment() uint32   { return h.dev.blockLen }

func (h *handle) IoTypeSupported(kind blockdevice.IoType) bool {
	switch kind {
	case blockdevice.IoRead, blockdevice.IoWrite:
		return true
	default:
		return false
	}
}

func (h *handle) Stats() blockdevice.IoStats {
	return blockdevice.IoStats{
		NumReadOps:     h.stats.readOps.Load(),
		NumWriteOps:    h.stats.writeOps.Load(),
		BytesRead:      h.stats.bytesRead.Load(),
		BytesWritten:   h.stats.bytesWritten.Load(),
		NumReadErrors:  h.stats.readErrs.Load(),
		NumWriteErrors: h.stats.writeErrs.Load(),
	}
}

func (h *handle) Close() error {
	h.closed.Store(true)
	return nil
}
