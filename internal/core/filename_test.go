package core

import (
	"sort"
	"testing"
)

func TestParseFileName(t *testing.T) {
	cases := []struct {
		in   string
		want FileName
	}{
		{"scan_0001.tif", FileName{Stem: "scan", Sequence: 1, SeqWidth: 4, Ext: ".tif"}},
		{"scan_0012r.TIF", FileName{Stem: "scan", Sequence: 12, SeqWidth: 4, Marker: "r", Ext: ".tif"}},
		{"scan_0012v.jpg", FileName{Stem: "scan", Sequence: 12, SeqWidth: 4, Marker: "v", Ext: ".jpg"}},
		{"karten_p_ii_100_nr_5_0003.pdf", FileName{Stem: "karten_p_ii_100_nr_5", Sequence: 3, SeqWidth: 4, Ext: ".pdf"}},
		{"notes.txt", FileName{Stem: "notes", Sequence: -1, Ext: ".txt"}},
		{"README", FileName{Stem: "README", Sequence: -1, Ext: ""}},
	}
	for _, tc := range cases {
		got := ParseFileName(tc.in)
		if got != tc.want {
			t.Errorf("ParseFileName(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestStem(t *testing.T) {
	if got := Stem("/data/karten/scan_0001.tif"); got != "scan_0001" {
		t.Errorf("Stem = %q, want scan_0001", got)
	}
	if got := Stem("scan_0001.jpeg"); got != "scan_0001" {
		t.Errorf("Stem = %q, want scan_0001", got)
	}
}

func TestNaturalLess(t *testing.T) {
	names := []string{"scan_10.tif", "scan_2.tif", "scan_1.tif", "scan_2b.tif"}
	sort.Slice(names, func(i, j int) bool { return NaturalLess(names[i], names[j]) })
	want := []string{"scan_1.tif", "scan_2.tif", "scan_2b.tif", "scan_10.tif"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("natural sort order = %v, want %v", names, want)
		}
	}
}
