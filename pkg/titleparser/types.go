// Package titleparser extracts structured metadata from raw stream titles
// by running an ordered list of regex-driven rules over the string,
// accumulating matches into a ParsedTitle and producing a cleaned residual
// title.
package titleparser

// ParsedTitle is the mutable bag of metadata a Parser accumulates while
// walking its rule table. Scalar fields are pointers so a rule can tell
// "never matched" apart from a zero value; list fields preserve discovery
// order and never contain duplicates.
type ParsedTitle struct {
	Year        *int
	Resolution  *string
	Quality     *string
	Codec       *string
	Container   *string
	Group       *string
	Site        *string
	BitDepth    *string
	Bitrate     *string
	Country     *string
	Region      *string
	Edition     *string
	EpisodeCode *string
	Size        *string
	Date        *string
	TMDB        *int
	TVDB        *int

	Proper      bool
	Repack      bool
	Retail      bool
	Remastered  bool
	Unrated     bool
	Uncensored  bool
	Commentary  bool
	Documentary bool
	Convert     bool
	Hardcoded   bool
	Extended    bool
	Complete    bool
	Upscaled    bool
	Subbed      bool
	Dubbed      bool
	PPV         bool
	Adult       bool
	Trash       bool
	Is3D        bool

	Languages []string
	HDR       []string
	Audio     []string
	Channels  []string
	Networks  []string
	Seasons   []int
	Episodes  []int
	Volumes   []int

	// Title is the residual title string, with every remove=true match
	// excised and whitespace normalized.
	Title string
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func appendUniqueInt(list []int, v int) []int {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
