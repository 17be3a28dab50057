package model

import (
	"fmt"
	"strings"
)

// MaxCodeWidth bounds the number of bits a hidden goal code may use.
const MaxCodeWidth = 32

// Code is a fixed-width {0,1} identity tuple stored as a bitset. Codes are only
// ever compared for equality.
type Code struct {
	Bits  uint32 `json:"bits"`
	Width int    `json:"width"`
}

// OneHot returns the code with only bit i set.
func OneHot(i, width int) (Code, error) {
	if width <= 0 || width > MaxCodeWidth {
		return Code{}, fmt.Errorf("code width %d outside 1..%d", width, MaxCodeWidth)
	}
	if i < 0 || i >= width {
		return Code{}, fmt.Errorf("code bit %d outside width %d", i, width)
	}
	return Code{Bits: 1 << uint(i), Width: width}, nil
}

func (c Code) Equal(o Code) bool {
	return c.Bits == o.Bits && c.Width == o.Width
}

// Tuple renders the code most-significant bit first.
func (c Code) Tuple() []int {
	out := make([]int, c.Width)
	for i := 0; i < c.Width; i++ {
		if c.Bits&(1<<uint(c.Width-1-i)) != 0 {
			out[i] = 1
		}
	}
	return out
}

func (c Code) String() string {
	parts := make([]string, 0, c.Width)
	for _, bit := range c.Tuple() {
		parts = append(parts, fmt.Sprint(bit))
	}
	return "(" + strings.Join(parts, ",") + ")"
}
