package bibtex

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/wetneb/dissemin/internal/reference"
)

func TestParseAuthors(t *testing.T) {
	tests := []struct {
		name     string
		citation string
		want     []reference.Name
	}{
		{
			name: "braces with accents",
			citation: `@inproceedings{Legastelois2017,
  title = {Negation of graded beliefs},
  author = {L{\'e}gastelois, B{\'e}n{\'e}dicte and Lesot, Marie-Jeanne and Revault d'Allonnes, Adrien},
  year = {2017}
}`,
			want: []reference.Name{
				{First: "Bénédicte", Last: "Légastelois"},
				{First: "Marie-Jeanne", Last: "Lesot"},
				{First: "Adrien", Last: "Revault d'Allonnes"},
			},
		},
		{
			name:     "quoted value",
			citation: `@article{x, author = "Doe, John AND Roe, Jane", year = 2015}`,
			want: []reference.Name{
				{First: "John", Last: "Doe"},
				{First: "Jane", Last: "Roe"},
			},
		},
		{
			name:     "protected and",
			citation: `@misc{x, author = {{Barnes and Noble} and Smith, Ann}}`,
			want: []reference.Name{
				{First: "Barnes and", Last: "Noble"},
				{First: "Ann", Last: "Smith"},
			},
		},
		{
			name:     "no author field",
			citation: `@misc{x, title = {Alone}}`,
			want:     nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAuthors(tt.citation)
			if err != nil {
				t.Fatalf("ParseAuthors() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseAuthors() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseAuthorsMalformed(t *testing.T) {
	if _, err := ParseAuthors(`@misc{x, author = {Doe, John`); err == nil {
		t.Error("expected an error for an unterminated author field")
	}
}

func TestToBibTeX(t *testing.T) {
	p := reference.Paper{
		Title: "Conjunctive Queries on Probabilistic Graphs: Combined Complexity",
		Authors: []reference.Author{
			{Name: reference.Name{First: "Antoine", Last: "Amarilli"}},
			{Name: reference.Name{First: "Mikaël", Last: "Monet"}},
		},
		Published: reference.PublicationDate{Year: 2017, Month: 1, Day: 1},
		DocType:   reference.PubTypeProceedingsArticle,
		Records: []reference.SourceRecord{
			{Source: reference.SourceCrossref, DOI: "10.1145/3034786.3056121"},
		},
	}

	want := `@inproceedings{Amarilli2017,
  author = {Amarilli, Antoine and Monet, Mikaël},
  doi = {10.1145/3034786.3056121},
  month = {jan},
  title = {Conjunctive Queries on Probabilistic Graphs: Combined Complexity},
  url = {https://doi.org/10.1145/3034786.3056121},
  year = {2017}
}
`
	if got := ToBibTeX(p); got != want {
		t.Errorf("ToBibTeX() mismatch (-want +got):\n%s", cmp.Diff(want, got))
	}
}

func TestToBibTeX_EscapesAndDefaults(t *testing.T) {
	p := reference.Paper{
		Title:     "Fish & Chips_2",
		Published: reference.PublicationDate{Year: 2020},
		DocType:   reference.PubTypeDataset,
	}
	got := ToBibTeX(p)
	if !strings.HasPrefix(got, "@misc{Unknown2020,") {
		t.Errorf("expected misc entry keyed Unknown2020, got:\n%s", got)
	}
	if !strings.Contains(got, `title = {Fish \& Chips\_2}`) {
		t.Errorf("expected escaped title, got:\n%s", got)
	}
	if strings.Contains(got, "month") {
		t.Errorf("expected no month field, got:\n%s", got)
	}
}

func TestToBibTeXList(t *testing.T) {
	papers := []reference.Paper{
		{Title: "One", Published: reference.PublicationDate{Year: 2001}},
		{Title: "Two", Published: reference.PublicationDate{Year: 2002}},
	}
	got := ToBibTeXList(papers)
	if n := strings.Count(got, "@misc{"); n != 2 {
		t.Errorf("expected 2 entries, got %d", n)
	}
}
