package des

// Nonce is one 64-bit DES block (or key), held as two big-endian
// halves, matching the original's SNewtNonce {hi, lo} layout.
type Nonce struct {
	Hi uint32
	Lo uint32
}

// NonceFromBytes reads 8 big-endian bytes as a Nonce.
func NonceFromBytes(b []byte) Nonce {
	return Nonce{
		Hi: uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]),
		Lo: uint32(b[4])<<24 | uint32(b[5])<<16 | uint32(b[6])<<8 | uint32(b[7]),
	}
}

// Bytes renders n as 8 big-endian bytes.
func (n Nonce) Bytes() [8]byte {
	return [8]byte{
		byte(n.Hi >> 24), byte(n.Hi >> 16), byte(n.Hi >> 8), byte(n.Hi),
		byte(n.Lo >> 24), byte(n.Lo >> 16), byte(n.Lo >> 8), byte(n.Lo),
	}
}

// permute applies a sentinel-terminated permutation table to a 64-bit
// value split across hi/lo, transcribed bit-for-bit from DESPermute:
// the table is scanned for one 32-bit output half at a time (a 64
// sentinel marks the boundary), and hi/lo are swapped between halves,
// stopping once the 128 end-of-table sentinel is consumed.
func permute(table []byte, hi, lo uint32) Nonce {
	var outHi, outLo uint32
	idx := 0
	for {
		outHi = 0
		var bitPos byte
		for {
			bitPos = table[idx]
			idx++
			if bitPos >= 64 {
				break
			}
			outHi <<= 1
			var srcBits uint32
			bp := bitPos
			if bp < 32 {
				srcBits = lo
			} else {
				srcBits = hi
				bp -= 32
			}
			if srcBits&(1<<bp) != 0 {
				outHi |= 1
			}
		}
		outHi, outLo = outLo, outHi
		if bitPos >= 128 {
			break
		}
	}
	return Nonce{Hi: outHi, Lo: outLo}
}

// KeySchedule computes the 16 round keys for key, via PC1 followed by
// the per-round rotate-then-PC2 schedule driven by the 0xC0810000 bit
// pattern (a set bit marks a round that rotates by 1, a clear bit a
// round that rotates by 2, as the classic DES key schedule calls for).
func KeySchedule(key Nonce) [16]Nonce {
	var out [16]Nonce
	permuted := permute(pc1Table, key.Hi<<1, key.Lo<<1)
	pHi := permuted.Hi << 4
	pLo := permuted.Lo << 4
	i := 0
	for rotateSchedule := uint32(0xC0810000); rotateSchedule != 0; rotateSchedule <<= 1 {
		if rotateSchedule&0x80000000 != 0 {
			pHi = (pHi << 1) | ((pHi >> 27) & 0x0010)
			pLo = (pLo << 1) | ((pLo >> 27) & 0x0010)
		} else {
			pHi = (pHi << 2) | ((pHi >> 26) & 0x0030)
			pLo = (pLo << 2) | ((pLo >> 26) & 0x0030)
		}
		out[i] = permute(pc2Table, pHi, pLo)
		i++
	}
	return out
}

// CharToKey derives an 8-byte odd-parity DES key from a UTF-16
// password (password may be empty: the dock's own password is always
// empty), consuming the string 4 UniChars at a time and folding each
// block through DESEncode, exactly as DESCharToKey does.
func CharToKey(password []uint16) Nonce {
	key0 := Nonce{Hi: 0x57406860, Lo: 0x626D7464}
	pos := 0
	moreChars := true
	for moreChars {
		keys := KeySchedule(key0)
		var buf [4]uint16
		for i := 0; i < 4; i++ {
			if moreChars {
				if pos < len(password) && password[pos] != 0 {
					buf[i] = password[pos]
					pos++
				} else {
					moreChars = false
					buf[i] = 0
				}
			} else {
				buf[i] = 0
			}
		}
		key1 := Nonce{
			Hi: uint32(buf[0])<<16 | uint32(buf[1]),
			Lo: uint32(buf[2])<<16 | uint32(buf[3]),
		}
		key1 = EncodeBlock(keys, key1)
		b := key1.Bytes()
		for i := range b {
			b[i] = parityTable[b[i]&0xFE]
		}
		key0 = NonceFromBytes(b[:])
	}
	return key0
}

// ip is the initial permutation, implemented (as the original is) via
// direct bit rotation rather than the sentinel-terminated permute
// table used everywhere else in this cipher.
func ip(hi, lo uint32) Nonce {
	d6 := hi
	d7 := hi << 16
	a1 := lo
	a3 := lo << 16
	var resultHi, resultLo uint32

	for j := 0; j < 2; j++ {
		resultHi = (resultHi >> 1) | (resultHi << 31)
		resultLo = (resultLo >> 1) | (resultLo << 31)

		for i := 0; i < 8; i++ {
			resultLo = (a3 >> 31) | (resultLo << 1)
			a3 <<= 1
			resultLo = (resultLo >> 31) | (resultLo << 1)

			resultLo = (a1 >> 31) | (resultLo << 1)
			a1 <<= 1
			resultLo = (resultLo >> 31) | (resultLo << 1)

			resultLo = (d7 >> 31) | (resultLo << 1)
			d7 <<= 1
			resultLo = (resultLo >> 31) | (resultLo << 1)

			resultLo = (d6 >> 31) | (resultLo << 1)
			d6 <<= 1
			resultLo = (resultLo >> 31) | (resultLo << 1)

			resultHi, resultLo = resultLo, resultHi
		}
	}
	return Nonce{Hi: resultHi, Lo: resultLo}
}

// frk is the Feistel round function f(R, K): 8 S-box lookups over
// successive 6-bit windows of R xor K, folded through the P
// permutation.
func frk(kHi, kLo, r uint32) uint32 {
	var l uint32
	r = (r >> 31) + (r << 1) // rotate left 1 bit initially
	for i := 0; i < 8; i++ {
		l |= sBoxes[i][(r^kLo)&0x3F]
		l = (l << 28) | (l >> 4) // rotate L right 4 bits for next iteration
		r = (r << 28) | (r >> 4)
		kLo = (kHi << 26) + (kLo >> 6) // rotate K right 6 bits
		kHi = kHi >> 6
	}
	permuted := permute(pTable, 0, l)
	return permuted.Lo
}

// EncodeBlock runs one 8-byte block through all 16 rounds of keys.
func EncodeBlock(keys [16]Nonce, data Nonce) Nonce {
	permuted := ip(data.Hi, data.Lo)
	keyHi, keyLo := permuted.Hi, permuted.Lo
	for i := 0; i < 8; i++ {
		keyHi ^= frk(keys[2*i].Hi, keys[2*i].Lo, keyLo)
		keyLo ^= frk(keys[2*i+1].Hi, keys[2*i+1].Lo, keyHi)
	}
	return permute(ipInvTable, keyLo, keyHi)
}

// DecodeBlock runs one 8-byte block through all 16 rounds of keys in
// the same order EncodeBlock does, as the original DESDecode does.
func DecodeBlock(keys [16]Nonce, data Nonce) Nonce {
	permuted := ip(data.Hi, data.Lo)
	keyHi, keyLo := permuted.Hi, permuted.Lo
	for i := 0; i < 8; i++ {
		keyHi ^= frk(keys[2*i].Hi, keys[2*i].Lo, keyLo)
		keyLo ^= frk(keys[2*i+1].Hi, keys[2*i+1].Lo, keyHi)
	}
	return permute(ipInvTable, keyLo, keyHi)
}

// EncodeNonce derives the key schedule for key and encodes nonce with
// it in a single step, matching DESEncodeNonce. This is the operation
// the dock password response uses: the challenge the handheld sends
// is DES-encoded with the key derived from the (empty) dock password
//.
func EncodeNonce(key, nonce Nonce) Nonce {
	return EncodeBlock(KeySchedule(key), nonce)
}

// DecodeNonce is the decode-side entry point, matching DESDecodeNonce.
// DecodeBlock applies the round keys in the same order EncodeBlock
// does, so this does not invert EncodeNonce. Unused by the password-response flow, since this bridge never issues
// its own challenge to the handheld; kept for parity with the
// reference.
func DecodeNonce(key, nonce Nonce) Nonce {
	return DecodeBlock(KeySchedule(key), nonce)
}

// EncodeCBC chain-encodes a sequence of blocks, xoring each plaintext
// block with the running feedback register iv before encoding, and
// updating iv to the xored (pre-encode) value — exactly DESCBCEncode's
// feedback order, not the more common encrypt-then-chain CBC.
func EncodeCBC(keys [16]Nonce, blocks []Nonce, iv *Nonce) []Nonce {
	out := make([]Nonce, len(blocks))
	for i, b := range blocks {
		iv.Hi ^= b.Hi
		iv.Lo ^= b.Lo
		out[i] = EncodeBlock(keys, *iv)
	}
	return out
}

// DecodeCBC is the decode-side counterpart of EncodeCBC, per
// DESCBCDecode: it decodes each block with DecodeBlock, xors in iv, and
// sets iv to the ciphertext block. It does not invert EncodeCBC.
func DecodeCBC(keys [16]Nonce, blocks []Nonce, iv *Nonce) []Nonce {
	out := make([]Nonce, len(blocks))
	for i, b := range blocks {
		permuted := DecodeBlock(keys, b)
		out[i] = Nonce{Hi: permuted.Hi ^ iv.Hi, Lo: permuted.Lo ^ iv.Lo}
		*iv = b
	}
	return out
}
