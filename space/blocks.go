package space

// 方块库：48 个 3x3x3 的方块，由固定种子的整数哈希生成。
// 不使用 math/rand，保证不同版本、不同平台生成的几何完全一致。

const (
	// BlockCount 方块库大小，同时也是 MapID 的长度
	BlockCount = 48
	blockSize  = 3
	blockSeed  = 0x61787579
)

// Block 一个 3x3x3 的占用方块
type Block [blockSize][blockSize][blockSize]bool

var library = buildLibrary()

func buildLibrary() [BlockCount]Block {
	var lib [BlockCount]Block
	for b := 0; b < BlockCount; b++ {
		for x := 0; x < blockSize; x++ {
			for y := 0; y < blockSize; y++ {
				for z := 0; z < blockSize; z++ {
					// 中心格永远留空，网格因此不会被完全填满
					if x == 1 && y == 1 && z == 1 {
						continue
					}
					h := hash3(blockSeed+uint32(b), int32(x), int32(y), int32(z))
					lib[b][x][y][z] = h%3 == 0
				}
			}
		}
	}
	return lib
}

// Library 返回方块库的副本
func Library() [BlockCount]Block {
	return library
}

// hash32 32 位整数混合（Murmur finalizer 风格）
func hash32(x uint32) uint32 {
	x ^= x >> 16
	x *= 0x7feb352d
	x ^= x >> 15
	x *= 0x846ca68b
	x ^= x >> 16
	return x
}

func hash3(seed uint32, x, y, z int32) uint32 {
	h := seed
	h ^= uint32(x) * 0x9e3779b1
	h ^= uint32(y) * 0x85ebca6b
	h ^= uint32(z) * 0xc2b2ae35
	return hash32(h)
}
