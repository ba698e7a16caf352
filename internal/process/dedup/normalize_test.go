package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "   ", want: ""},
		{name: "branding tail", input: "Toyota halts production - Reuters", want: "toyota halts production"},
		{name: "pipe branding", input: "Kia dealers hit by outage | The Verge", want: "kia dealers hit by outage"},
		{name: "tail with digits kept", input: "Ransomware hits dealer network | Update 2", want: "ransomware hits dealer network update 2"},
		{name: "ellipsis and accents", input: "Renault cierra su fábrica…", want: "renault cierra su fabrica"},
		{name: "punctuation variants", input: "BMW's plant,  halted!", want: "bmws plant halted"},
		{name: "long tail kept", input: "Update: hackers breach the connected car portal of a major brand", want: "update hackers breach the connected car portal of a major brand"},
		{name: "colon is not a branding separator", input: "Toyota: production halted", want: "toyota production halted"},
		{name: "colon headline kept whole", input: "Toyota: new model launched", want: "toyota new model launched"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTitle(tt.input))
		})
	}
}

func TestNormalizeTitlePunctuationVariantsCollide(t *testing.T) {
	assert.Equal(t, NormalizeTitle("Jaguar Land Rover (JLR) halts output, again!"), NormalizeTitle("Jaguar Land Rover JLR halts output again"))
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "tracking and fragment", input: "https://Example.com/News/Story/?utm_source=x&id=5&fbclid=abc#top", want: "https://example.com/news/story?id=5"},
		{name: "mobile host", input: "https://m.example.com/a/b", want: "https://example.com/a/b"},
		{name: "amp host", input: "https://amp.example.com/a", want: "https://example.com/a"},
		{name: "amp suffix", input: "https://example.com/news/story/amp", want: "https://example.com/news/story"},
		{name: "amp output type", input: "https://example.com/a?outputType=amp&page=2", want: "https://example.com/a?page=2"},
		{name: "double slashes", input: "https://example.com//a///b/", want: "https://example.com/a/b"},
		{name: "root", input: "https://example.com", want: "https://example.com/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeURL(tt.input))
		})
	}
}

func TestURLSignature(t *testing.T) {
	assert.Equal(t, "example.com/a/b", URLSignature("https://www.example.com/a/b/?page=3"))
	assert.Equal(t, URLSignature("http://www.example.com/a/b"), URLSignature("https://example.com/a/b?x=1"))
	assert.Empty(t, URLSignature(""))
}

func TestNormalizeExternalID(t *testing.T) {
	assert.Equal(t, "10.1000/xyz123", NormalizeExternalID("https://doi.org/10.1000/XYZ123"))
	assert.Equal(t, "cve-2024-1234", NormalizeExternalID(" CVE-2024-1234 "))
	assert.Empty(t, NormalizeExternalID(""))
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantDate string
		wantYear int
	}{
		{name: "canonical", input: "05-03-2024", wantDate: "05-03-2024", wantYear: 2024},
		{name: "rfc3339", input: "2024-03-05T10:00:00Z", wantDate: "05-03-2024", wantYear: 2024},
		{name: "gdelt compact", input: "20240305T101500Z", wantDate: "05-03-2024", wantYear: 2024},
		{name: "year only", input: "published in 2023 by staff", wantDate: "", wantYear: 2023},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			date, year := ParseDate(tt.input)
			require.NotNil(t, year)
			assert.Equal(t, tt.wantDate, date)
			assert.Equal(t, tt.wantYear, *year)
		})
	}

	date, year := ParseDate("")
	assert.Empty(t, date)
	assert.Nil(t, year)
}

func TestPrefixKey(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		same bool
	}{
		{name: "stop words and plurals ignored", a: "The Toyota plants halted by ransomware attack - Reuters", b: "Toyota plant halted ransomware", same: true},
		{name: "different lead", a: "Toyota: production halted", b: "Toyota: new model launched"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.same {
				assert.Equal(t, PrefixKey(tt.a, 4), PrefixKey(tt.b, 4))
			} else {
				assert.NotEqual(t, PrefixKey(tt.a, 4), PrefixKey(tt.b, 4))
			}
		})
	}

	assert.Equal(t, "toyota-plant-halt-ransomware", PrefixKey("The Toyota plants halted by ransomware attack", 4))
	assert.Empty(t, PrefixKey("of the", 4))
}

func TestStrongTokensAndBag(t *testing.T) {
	assert.Equal(t, []string{"cyberattack", "halt", "toyota"}, StrongTokens("Cyber attack halts Toyota"))
	assert.Equal(t, []string{"nevada", "plant", "clos"}, StrongTokens("Nev. plant closes"))
	assert.Equal(t,
		BagSignature("Toyota halts production after cyberattack on supplier"),
		BagSignature("After cyberattack on supplier, Toyota halts production"))
}

func TestPrefixTitleEquivalent(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{
			name: "truncated last word",
			a:    "Toyota suspends production at 14 Japanese plants after cyberat...",
			b:    "Toyota suspends production at 14 Japanese plants after cyberattack",
			want: true,
		},
		{name: "single word", a: "Toyota", b: "Toyota halts", want: false},
		{name: "diverging words", a: "Toyota halts production", b: "Honda halts production", want: false},
		{name: "number missing", a: "Recall of 14 cars", b: "Recall of 145 cars", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PrefixTitleEquivalent(tt.a, tt.b))
		})
	}
}

func TestSimHashAndBands(t *testing.T) {
	a := TitleSimHash("Toyota halts production after cyberattack")
	require.NotZero(t, a)
	assert.Equal(t, a, TitleSimHash("Toyota halts production after cyberattack"))
	assert.Equal(t, 0, Hamming(a, a))
	assert.Equal(t, 64, Hamming(0, ^uint64(0)))
	assert.Len(t, Bands(a, 4), 4)
	assert.Zero(t, SimHash64(nil))
}

func TestJaccard(t *testing.T) {
	assert.InDelta(t, 0.5, Jaccard(setOf([]string{"a", "b"}), setOf([]string{"b", "c", "a", "d"})), 1e-9)
	assert.Zero(t, Jaccard(nil, setOf([]string{"a"})))
}
