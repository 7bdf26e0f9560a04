package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPage_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   Page
		want Page
	}{
		{name: "zero value", in: Page{}, want: Page{Number: 1, Size: DefaultPageSize}},
		{name: "negative", in: Page{Number: -2, Size: -5}, want: Page{Number: 1, Size: DefaultPageSize}},
		{name: "in range", in: Page{Number: 3, Size: 50}, want: Page{Number: 3, Size: 50}},
		{name: "at max", in: Page{Number: 1, Size: MaxPageSize}, want: Page{Number: 1, Size: MaxPageSize}},
		{name: "over max is clamped", in: Page{Number: 2, Size: 150}, want: Page{Number: 2, Size: MaxPageSize}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Normalize())
		})
	}
}

func TestPage_Offset(t *testing.T) {
	assert.Equal(t, 0, Page{Number: 1, Size: 20}.Offset())
	assert.Equal(t, 40, Page{Number: 3, Size: 20}.Offset())
}
