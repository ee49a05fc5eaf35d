package zone

import (
	"math"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		x    float64
		want Zone
	}{
		{"far left", 0, Outside},
		{"just left of corridor", 199, Outside},
		{"left boundary", 200, Inside},
		{"middle", 290, Inside},
		{"right boundary", 380, Inside},
		{"just right of corridor", 380.5, Outside},
		{"far right", 640, Outside},
		{"negative", -10, Outside},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.x, 200, 380); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.x, got, tt.want)
			}
		})
	}
}

func TestClassify_Sweep(t *testing.T) {
	left, right := 200.0, 380.0
	for x := -50.0; x <= 700; x += 0.5 {
		got := Classify(x, left, right)
		inside := x >= left && x <= right
		if inside && got != Inside {
			t.Fatalf("x=%v expected Inside, got %v", x, got)
		}
		if !inside && got != Outside {
			t.Fatalf("x=%v expected Outside, got %v", x, got)
		}
	}
}

func TestClassify_DegenerateCorridor(t *testing.T) {
	if got := Classify(300, 300, 300); got != Inside {
		t.Errorf("zero-width corridor should contain its line, got %v", got)
	}
	if got := Classify(300.1, 300, 300); got != Outside {
		t.Errorf("expected Outside, got %v", got)
	}
}

func TestCorridor_Classify(t *testing.T) {
	c := DefaultCorridor()
	if c.Left != 200 || c.Right != 380 {
		t.Fatalf("unexpected default corridor %+v", c)
	}
	if c.Classify(250) != Inside {
		t.Error("250 should be inside the default corridor")
	}
	if c.Classify(450) != Outside {
		t.Error("450 should be outside the default corridor")
	}
}

func TestCorridor_Validate(t *testing.T) {
	tests := []struct {
		name    string
		c       Corridor
		wantErr bool
	}{
		{"default", DefaultCorridor(), false},
		{"equal lines", Corridor{Left: 10, Right: 10}, false},
		{"inverted", Corridor{Left: 400, Right: 200}, true},
		{"nan left", Corridor{Left: math.NaN(), Right: 200}, true},
		{"inf right", Corridor{Left: 0, Right: math.Inf(1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestZoneString(t *testing.T) {
	if Inside.String() != "INSIDE" {
		t.Errorf("Inside.String() = %q", Inside.String())
	}
	if Outside.String() != "OUTSIDE" {
		t.Errorf("Outside.String() = %q", Outside.String())
	}
	if Zone(7).String() != "Zone(7)" {
		t.Errorf("unexpected String for unknown zone: %q", Zone(7).String())
	}
}
