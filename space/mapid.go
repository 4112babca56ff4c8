package space

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// ErrInvalidMapID MapID 长度或取值不合法
var ErrInvalidMapID = errors.New("invalid map id")

// MapID 48 个方块下标，按 4x4x3 排布展开成 12x12x9 的网格。
// 由地图发起者生成一次，原样传给所有加入者。
type MapID []int

// NewMapID 生成一个随机排列
func NewMapID(rng *rand.Rand) MapID {
	return MapID(rng.Perm(BlockCount))
}

// NewMapIDWithReplacement 可重复地随机选取方块
func NewMapIDWithReplacement(rng *rand.Rand) MapID {
	id := make(MapID, BlockCount)
	for i := range id {
		id[i] = rng.IntN(BlockCount)
	}
	return id
}

// Validate 检查长度与每个下标的范围
func (m MapID) Validate() error {
	if len(m) != BlockCount {
		return fmt.Errorf("%w: length %d, want %d", ErrInvalidMapID, len(m), BlockCount)
	}
	for i, b := range m {
		if b < 0 || b >= BlockCount {
			return fmt.Errorf("%w: index %d out of range at %d", ErrInvalidMapID, b, i)
		}
	}
	return nil
}

// Expand 将 MapID 确定性地展开成占用网格
func Expand(m MapID) (*Space, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	s := &Space{}
	n := 0
	for i := 0; i < Width/blockSize; i++ {
		for j := 0; j < Depth/blockSize; j++ {
			for k := 0; k < Height/blockSize; k++ {
				block := &library[m[n]]
				n++
				for x := 0; x < blockSize; x++ {
					for y := 0; y < blockSize; y++ {
						for z := 0; z < blockSize; z++ {
							if block[x][y][z] {
								s.cells[i*blockSize+x][j*blockSize+y][k*blockSize+z] = true
							}
						}
					}
				}
			}
		}
	}
	return s, nil
}

// MustExpand 用于测试和已校验过的 MapID
func MustExpand(m MapID) *Space {
	s, err := Expand(m)
	if err != nil {
		panic(err)
	}
	return s
}

// Identity 返回 0..47 的顺序 MapID
func Identity() MapID {
	id := make(MapID, BlockCount)
	for i := range id {
		id[i] = i
	}
	return id
}

// FromCells 根据给定的占用格子构造网格，供测试搭建特定地形
func FromCells(occupied ...[3]int) *Space {
	s := &Space{}
	for _, c := range occupied {
		s.cells[mod(c[0], Width)][mod(c[1], Depth)][mod(c[2], Height)] = true
	}
	return s
}
