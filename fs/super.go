package fs

import (
	"encoding/binary"

	"eduos/hal"
)

/// Superblock_t is the on-disk super block: sector 0 of every
/// filesystem image, laid out as a sequence of little-endian uint32
/// fields. cmd/mkfs writes it once when an image is created; Fs_t reads
/// it once at mount time and keeps it in memory thereafter.
type Superblock_t struct {
	Data [hal.SECTSZ]uint8
}

const (
	sbLoglen = iota
	sbLogstart
	sbFreemapstart
	sbFreemaplen
	sbInodestart
	sbInodelen
	sbDatastart
	sbRootinode
	sbNinodes
	sbNsectors
)

func fieldr(d *[hal.SECTSZ]uint8, i int) int {
	return int(binary.LittleEndian.Uint32(d[i*4:]))
}

func fieldw(d *[hal.SECTSZ]uint8, i int, v int) {
	binary.LittleEndian.PutUint32(d[i*4:], uint32(v))
}

func (sb *Superblock_t) Loglen() int       { return fieldr(&sb.Data, sbLoglen) }
func (sb *Superblock_t) Logstart() int     { return fieldr(&sb.Data, sbLogstart) }
func (sb *Superblock_t) Freemapstart() int { return fieldr(&sb.Data, sbFreemapstart) }
func (sb *Superblock_t) Freemaplen() int   { return fieldr(&sb.Data, sbFreemaplen) }
func (sb *Superblock_t) Inodestart() int   { return fieldr(&sb.Data, sbInodestart) }
func (sb *Superblock_t) Inodelen() int     { return fieldr(&sb.Data, sbInodelen) }
func (sb *Superblock_t) Datastart() int    { return fieldr(&sb.Data, sbDatastart) }
func (sb *Superblock_t) Rootinode() int    { return fieldr(&sb.Data, sbRootinode) }
func (sb *Superblock_t) Ninodes() int      { return fieldr(&sb.Data, sbNinodes) }
func (sb *Superblock_t) Nsectors() int     { return fieldr(&sb.Data, sbNsectors) }

func (sb *Superblock_t) SetLoglen(n int)       { fieldw(&sb.Data, sbLoglen, n) }
func (sb *Superblock_t) SetLogstart(n int)     { fieldw(&sb.Data, sbLogstart, n) }
func (sb *Superblock_t) SetFreemapstart(n int) { fieldw(&sb.Data, sbFreemapstart, n) }
func (sb *Superblock_t) SetFreemaplen(n int)   { fieldw(&sb.Data, sbFreemaplen, n) }
func (sb *Superblock_t) SetInodestart(n int)   { fieldw(&sb.Data, sbInodestart, n) }
func (sb *Superblock_t) SetInodelen(n int)     { fieldw(&sb.Data, sbInodelen, n) }
func (sb *Superblock_t) SetDatastart(n int)    { fieldw(&sb.Data, sbDatastart, n) }
func (sb *Superblock_t) SetRootinode(n int)    { fieldw(&sb.Data, sbRootinode, n) }
func (sb *Superblock_t) SetNinodes(n int)      { fieldw(&sb.Data, sbNinodes, n) }
func (sb *Superblock_t) SetNsectors(n int)     { fieldw(&sb.Data, sbNsectors, n) }
