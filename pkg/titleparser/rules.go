package titleparser

import (
	"regexp"
	"strings"
)

// re compiles an always-valid pattern. It adds no flags: rules below that
// match case-insensitively embed (?i) themselves, mirroring the source rule
// catalogue this table is grounded on.
func re(pattern string) *regexp.Regexp {
	return regexp.MustCompile(pattern)
}

// registerDefaults builds the rule table every new Parser runs. Rules are
// grouped by field family; within a family, more specific patterns are
// registered before generic fallbacks so SkipIfAlreadyFound lets the
// specific match win.
func registerDefaults(p *Parser) {
	registerResolutionRules(p)
	registerHDRRules(p)
	registerQualityRules(p)
	registerAudioRules(p)
	registerChannelRules(p)
	registerCodecRules(p)
	registerLanguageRules(p)
	registerEpisodeRules(p)
	registerYearRules(p)
	registerFlagRules(p)
	registerScalarRules(p)
	registerGroupRules(p)
}

func applyResolution(pt *ParsedTitle, val any) { pt.Resolution = strPtr(val.(string)) }

func registerResolutionRules(p *Parser) {
	p.AddHandler("resolution", re(`(?i)\[?\]?3840x\d{4}[\])?]?`), literal("2160p"), applyResolution,
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("resolution", re(`(?i)\[?\]?1920x\d{3,4}[\])?]?`), literal("1080p"), applyResolution,
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("resolution", re(`(?i)\[?\]?1280x\d{3}[\])?]?`), literal("720p"), applyResolution,
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("resolution", re(`(?i)(?:QHD|QuadHD|WQHD|2560(?:\d+)?x(?:\d+)?1440p?)`), literal("1440p"), applyResolution,
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("resolution", re(`(?i)(?:Full HD|FHD)`), literal("1080p"), applyResolution,
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("resolution", re(`(?i)\b(?:BD|HD|M)(2160p?|4k)\b`), literal("2160p"), applyResolution,
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("resolution", re(`(?i)\b(?:BD|HD|M)1080p?\b`), literal("1080p"), applyResolution,
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("resolution", re(`(?i)\b(?:BD|HD|M)720p?\b`), literal("720p"), applyResolution,
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("resolution", re(`(?i)\b(4k|2160p|1080p|720p|480p|576p|360p)\b`), transformResolution, applyResolution,
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("resolution", re(`(?i)\b(?:UHD|Ultra[ .]?HD)\b`), literal("2160p"), applyResolution,
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("resolution", re(`(?i)(\d{3,4}[pi])\b`), lowercase, applyResolution,
		Options{Remove: true, SkipIfAlreadyFound: true})
}

func appendHDR(v string) Apply {
	return func(pt *ParsedTitle, val any) { pt.HDR = appendUnique(pt.HDR, v) }
}

func registerHDRRules(p *Parser) {
	p.AddHandler("hdr", re(`(?i)\bHDR10\+`), boolean, appendHDR("HDR10+"), Options{Remove: true})
	p.AddHandler("hdr", re(`(?i)\bHDR10\b`), boolean, appendHDR("HDR10"), Options{Remove: true})
	p.AddHandler("hdr", re(`(?i)\b(?:DV|Dolby[ .]?Vision)\b`), boolean, appendHDR("DV"), Options{Remove: true})
	p.AddHandler("hdr", re(`(?i)\bHDR\b`), boolean, appendHDR("HDR"), Options{Remove: true})
	p.AddHandler("hdr", re(`(?i)\bSDR\b`), boolean, appendHDR("SDR"), Options{Remove: true})
	p.AddHandler("hdr", re(`(?i)\bHLG\b`), boolean, appendHDR("HLG"), Options{Remove: true})
}

func applyQuality(pt *ParsedTitle, val any) { pt.Quality = strPtr(val.(string)) }

func transformBluray(match string) any {
	if strings.Contains(strings.ToLower(match), "remux") {
		return "BluRay REMUX"
	}
	return "BluRay"
}

func registerQualityRules(p *Parser) {
	p.AddHandler("quality", re(`(?i)\bPRE[- .]?HDRip\b`), literal("SCR"), applyQuality,
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("quality", re(`(?i)\bTS-Screener\b`), literal("TeleSync"), applyQuality,
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("quality", re(`(?i)\bblu-?ray(?:[ .]remux)?\b`), transformBluray, applyQuality,
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("quality", re(`(?i)\bweb[-. ]?dl\b`), literal("WEB-DL"), applyQuality,
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("quality", re(`(?i)\bweb[-. ]?rip\b`), literal("WEBRip"), applyQuality,
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("quality", re(`(?i)\bbd-?rip\b`), literal("BDRip"), applyQuality,
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("quality", re(`(?i)\bdvd-?rip\b`), literal("DVDRip"), applyQuality,
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("quality", re(`(?i)\bhdtv\b`), literal("HDTV"), applyQuality,
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("quality", re(`(?i)\bdvd-?scr\b`), literal("DVDScr"), applyQuality,
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("quality", re(`(?i)\bcam-?rip\b|\bhd-?cam\b|\bcam\b`), literal("CAM"), applyQuality,
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("quality", re(`(?i)\bt(?:ele)?s(?:ync)?(?:rip)?\b`), literal("TeleSync"), applyQuality,
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("quality", re(`(?i)\bppv\b`), literal("PPV"), applyQuality,
		Options{Remove: true, SkipIfAlreadyFound: true})
}

func appendAudio(v string) Apply {
	return func(pt *ParsedTitle, val any) { pt.Audio = appendUnique(pt.Audio, v) }
}

func registerAudioRules(p *Parser) {
	p.AddHandler("audio", re(`(?i)\bTrueHD\b`), boolean, appendAudio("TrueHD"), Options{Remove: true})
	p.AddHandler("audio", re(`(?i)\bAtmos\b`), boolean, appendAudio("Atmos"), Options{Remove: true})
	p.AddHandler("audio", re(`(?i)\bDTS-?HD\b`), boolean, appendAudio("DTS-HD"), Options{Remove: true})
	p.AddHandler("audio", re(`(?i)\bDTS\b`), boolean, appendAudio("DTS"), Options{Remove: true})
	p.AddHandler("audio", re(`(?i)\bDD[+p]|Dolby[ .]?Digital[ .]?Plus|DDP\b`), boolean, appendAudio("DD+"), Options{Remove: true})
	p.AddHandler("audio", re(`(?i)\b(?:DD|Dolby[ .]?Digital|AC-?3)\b`), boolean, appendAudio("AC3"), Options{Remove: true})
	p.AddHandler("audio", re(`(?i)\bAAC\b`), boolean, appendAudio("AAC"), Options{Remove: true})
	p.AddHandler("audio", re(`(?i)\bFLAC\b`), boolean, appendAudio("FLAC"), Options{Remove: true})
	p.AddHandler("audio", re(`(?i)\bOpus\b`), boolean, appendAudio("Opus"), Options{Remove: true})
}

func registerChannelRules(p *Parser) {
	p.AddHandler("channels", re(`\b([0-9]\.[0-9])\b`), value, func(pt *ParsedTitle, val any) {
		pt.Channels = appendUnique(pt.Channels, val.(string))
	}, Options{Remove: true})
}

func applyCodec(v string) Apply {
	return func(pt *ParsedTitle, val any) { pt.Codec = strPtr(v) }
}

func registerCodecRules(p *Parser) {
	p.AddHandler("codec", re(`(?i)\b(?:x|h)\.?265\b|\bHEVC\b`), boolean, applyCodec("hevc"),
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("codec", re(`(?i)\b(?:x|h)\.?264\b|\bAVC\b`), boolean, applyCodec("avc"),
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("codec", re(`(?i)\bXviD\b`), boolean, applyCodec("xvid"),
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("codec", re(`(?i)\bDivX\b`), boolean, applyCodec("divx"),
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("codec", re(`(?i)\bAV1\b`), boolean, applyCodec("av1"),
		Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("codec", re(`(?i)\bVC-?1\b`), boolean, applyCodec("vc1"),
		Options{Remove: true, SkipIfAlreadyFound: true})
}

func appendLanguage(code string) Apply {
	return func(pt *ParsedTitle, val any) { pt.Languages = appendUnique(pt.Languages, code) }
}

func registerLanguageRules(p *Parser) {
	p.AddHandler("languages", re(`(?i)\bMULTi\b`), boolean, func(pt *ParsedTitle, val any) {}, Options{Remove: true})
	p.AddHandler("languages", re(`(?i)\bE[- ]?Sub\b`), boolean, appendLanguage("en"), Options{Remove: true})
	p.AddHandler("languages", re(`(?i)\bENG(?:lish)?\b`), boolean, appendLanguage("en"), Options{Remove: true})
	p.AddHandler("languages", re(`(?i)\bITA(?:lian)?\b`), boolean, appendLanguage("it"), Options{Remove: true})
	p.AddHandler("languages", re(`(?i)\b(?:FRE|FRA|French)\b`), boolean, appendLanguage("fr"), Options{Remove: true})
	p.AddHandler("languages", re(`(?i)\b(?:GER|DEU|German)\b`), boolean, appendLanguage("de"), Options{Remove: true})
	p.AddHandler("languages", re(`(?i)\b(?:SPA|Spanish)\b`), boolean, appendLanguage("es"), Options{Remove: true})
	p.AddHandler("languages", re(`(?i)\b(?:RUS|Russian)\b`), boolean, appendLanguage("ru"), Options{Remove: true})
	p.AddHandler("languages", re(`(?i)\b(?:POR|Portuguese)\b`), boolean, appendLanguage("pt"), Options{Remove: true})
	p.AddHandler("languages", re(`(?i)\b(?:JPN|Japanese)\b`), boolean, appendLanguage("ja"), Options{Remove: true})
	p.AddHandler("languages", re(`(?i)\bDubbed\b`), boolean, func(pt *ParsedTitle, val any) { pt.Dubbed = true }, Options{Remove: true})
	p.AddHandler("languages", re(`(?i)\bSubbed\b`), boolean, func(pt *ParsedTitle, val any) { pt.Subbed = true }, Options{Remove: true})
}

func registerEpisodeRules(p *Parser) {
	// Episode extraction runs before the season rule below removes the
	// shared "SxxExx" span, since both read the same intact match.
	p.AddHandler("episodes", re(`(?i)\bS\d{1,3}E(\d{1,4})\b`), uinteger, func(pt *ParsedTitle, val any) {
		pt.Episodes = appendUniqueInt(pt.Episodes, val.(int))
	}, Options{Remove: false})
	p.AddHandler("episodes", re(`(?i)\b(?:ep?(?:isode)?)[. ]?[-:#]?[. ]?(\d{1,4})\b`), uinteger, func(pt *ParsedTitle, val any) {
		pt.Episodes = appendUniqueInt(pt.Episodes, val.(int))
	}, Options{})
	p.AddHandler("episodes", re(`(?i)\b\d{1,2}x(\d{1,3})\b`), uinteger, func(pt *ParsedTitle, val any) {
		pt.Episodes = appendUniqueInt(pt.Episodes, val.(int))
	}, Options{Remove: true})

	p.AddHandler("seasons", re(`(?i)(?:complete\W|seasons?\W|\W|^)((?:s\d{1,2}[., +/\\&-]+)+s\d{1,2})\b`), parseNumericRange, func(pt *ParsedTitle, val any) {
		for _, n := range val.([]int) {
			pt.Seasons = appendUniqueInt(pt.Seasons, n)
		}
	}, Options{Remove: true})
	p.AddHandler("seasons", re(`(?i)\bseasons?\b[. -]?(\d{1,2}[. -]?(?:to|thru|and|\+|:)[. -]?\d{1,2})\b`), parseNumericRange, func(pt *ParsedTitle, val any) {
		for _, n := range val.([]int) {
			pt.Seasons = appendUniqueInt(pt.Seasons, n)
		}
	}, Options{Remove: true})
	p.AddHandler("seasons", re(`(?i)\bseasons?\b[. -]?(\d{1,2}[.-]\d{1,2})\b`), parseNumericRange, func(pt *ParsedTitle, val any) {
		for _, n := range val.([]int) {
			pt.Seasons = appendUniqueInt(pt.Seasons, n)
		}
	}, Options{Remove: true})
	p.AddHandler("seasons", re(`(?i)\bseason[. ]?(\d{1,2})\b`), uinteger, func(pt *ParsedTitle, val any) {
		pt.Seasons = appendUniqueInt(pt.Seasons, val.(int))
	}, Options{Remove: true})
	p.AddHandler("seasons", re(`(?i)\bS(\d{1,3})E\d{1,4}\b`), uinteger, func(pt *ParsedTitle, val any) {
		pt.Seasons = appendUniqueInt(pt.Seasons, val.(int))
	}, Options{Remove: true})
	p.AddHandler("seasons", re(`(?i)\b(\d{1,2})x\d{1,3}\b`), uinteger, func(pt *ParsedTitle, val any) {
		pt.Seasons = appendUniqueInt(pt.Seasons, val.(int))
	}, Options{Remove: true})
	p.AddHandler("seasons", re(`(?i)\bcomplete\b`), boolean, func(pt *ParsedTitle, val any) { pt.Complete = true }, Options{Remove: true})
}

func registerYearRules(p *Parser) {
	p.AddHandler("year", re(`\b(19\d{2}|20\d{2})\b`), uinteger, func(pt *ParsedTitle, val any) {
		pt.Year = intPtr(val.(int))
	}, Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("date", re(`\b(\d{4}-\d{2}-\d{2})\b`), parseDate, func(pt *ParsedTitle, val any) {
		pt.Date = strPtr(val.(string))
	}, Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("date", re(`\b(\d{2}\.\d{2}\.\d{4})\b`), parseDate, func(pt *ParsedTitle, val any) {
		pt.Date = strPtr(val.(string))
	}, Options{Remove: true, SkipIfAlreadyFound: true})
}

func flagRule(p *Parser, tag, pattern string, set func(pt *ParsedTitle)) {
	p.AddHandler(tag, re(pattern), boolean, func(pt *ParsedTitle, val any) { set(pt) }, Options{Remove: true})
}

func registerFlagRules(p *Parser) {
	flagRule(p, "proper", `(?i)\bPROPER\b`, func(pt *ParsedTitle) { pt.Proper = true })
	flagRule(p, "repack", `(?i)\bREPACK\b`, func(pt *ParsedTitle) { pt.Repack = true })
	flagRule(p, "retail", `(?i)\bRETAIL\b`, func(pt *ParsedTitle) { pt.Retail = true })
	flagRule(p, "remastered", `(?i)\bREMASTERED\b`, func(pt *ParsedTitle) { pt.Remastered = true })
	flagRule(p, "unrated", `(?i)\bUNRATED\b`, func(pt *ParsedTitle) { pt.Unrated = true })
	flagRule(p, "uncensored", `(?i)\bUNCENSORED\b`, func(pt *ParsedTitle) { pt.Uncensored = true })
	flagRule(p, "commentary", `(?i)\bCOMMENTARY\b`, func(pt *ParsedTitle) { pt.Commentary = true })
	flagRule(p, "documentary", `(?i)\bDOCUMENTARY\b`, func(pt *ParsedTitle) { pt.Documentary = true })
	flagRule(p, "convert", `(?i)\bCONVERT\b`, func(pt *ParsedTitle) { pt.Convert = true })
	flagRule(p, "hardcoded", `(?i)\bHC\b|\bHARDCODED\b`, func(pt *ParsedTitle) { pt.Hardcoded = true })
	flagRule(p, "extended", `(?i)\bEXTENDED\b`, func(pt *ParsedTitle) { pt.Extended = true })
	flagRule(p, "upscaled", `(?i)\bUPSCALED?\b`, func(pt *ParsedTitle) { pt.Upscaled = true })
	flagRule(p, "ppv", `(?i)\bPPV\b`, func(pt *ParsedTitle) { pt.PPV = true })
	flagRule(p, "adult", `(?i)\bXXX\b`, func(pt *ParsedTitle) { pt.Adult = true })
	flagRule(p, "3d", `(?i)\b3D\b`, func(pt *ParsedTitle) { pt.Is3D = true })
	p.AddHandler("trash", re(`(?i)\b\d+[0o]+[mg]b\b`), boolean, func(pt *ParsedTitle, val any) { pt.Trash = true }, Options{Remove: true})
}

func registerScalarRules(p *Parser) {
	p.AddHandler("bit_depth", re(`(?i)\b(8|10|12)[- ]?bit\b`), func(match string) any {
		return extractDigits(match) + "bit"
	}, func(pt *ParsedTitle, val any) { pt.BitDepth = strPtr(val.(string)) },
		Options{Remove: true, SkipIfAlreadyFound: true})

	p.AddHandler("bitrate", re(`(?i)\b(\d{2,5})[ -]?kbps\b`), value, func(pt *ParsedTitle, val any) {
		pt.Bitrate = strPtr(val.(string))
	}, Options{Remove: true, SkipIfAlreadyFound: true})

	p.AddHandler("size", re(`(?i)\b(\d+(?:\.\d+)?\s?(?:GB|MB))\b`), value, func(pt *ParsedTitle, val any) {
		pt.Size = strPtr(val.(string))
	}, Options{Remove: true, SkipIfAlreadyFound: true})

	p.AddHandler("country", re(`(?i)\b(USA|UK|FRANCE|GERMANY|ITALY|SPAIN|RUSSIA|JAPAN)\b`), uppercase, func(pt *ParsedTitle, val any) {
		pt.Country = strPtr(val.(string))
	}, Options{Remove: true, SkipIfAlreadyFound: true})

	p.AddHandler("region", re(`(?i)\bREGION[. ]?([A-E1-6])\b`), uppercase, func(pt *ParsedTitle, val any) {
		pt.Region = strPtr(val.(string))
	}, Options{Remove: true, SkipIfAlreadyFound: true})

	p.AddHandler("edition", re(`(?i)\b(Director'?s[ .]?Cut)\b`), literal("Director's Cut"), func(pt *ParsedTitle, val any) {
		pt.Edition = strPtr(val.(string))
	}, Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("edition", re(`(?i)\b(Extended[ .]?Cut)\b`), literal("Extended Cut"), func(pt *ParsedTitle, val any) {
		pt.Edition = strPtr(val.(string))
	}, Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("edition", re(`(?i)\bAnniversary[ .]?Edition\b`), literal("Anniversary Edition"), func(pt *ParsedTitle, val any) {
		pt.Edition = strPtr(val.(string))
	}, Options{Remove: true, SkipIfAlreadyFound: true})

	p.AddHandler("episode_code", re(`[\[(]([A-Fa-f0-9]{8})[\])]`), uppercase, func(pt *ParsedTitle, val any) {
		pt.EpisodeCode = strPtr(val.(string))
	}, Options{Remove: true, SkipIfAlreadyFound: true})

	p.AddHandler("site", re(`(?i)^\[?((?:www\.)?[a-z0-9-]+\.[a-z]{2,4})[\]. -]`), lowercase, func(pt *ParsedTitle, val any) {
		pt.Site = strPtr(val.(string))
	}, Options{Remove: true, SkipIfAlreadyFound: true})

	p.AddHandler("network", re(`(?i)\b(AMZN|NF|DSNP|HULU|HMAX|ATVP|PCOK)\b`), uppercase, func(pt *ParsedTitle, val any) {
		pt.Networks = appendUnique(pt.Networks, val.(string))
	}, Options{Remove: true})

	p.AddHandler("volumes", re(`(?i)\bvol(?:s|umes?)?[. -]*((?:\d{1,2}[., +/\\&-]+)+\d{1,2})\b`), parseNumericRange, func(pt *ParsedTitle, val any) {
		for _, n := range val.([]int) {
			pt.Volumes = appendUniqueInt(pt.Volumes, n)
		}
	}, Options{Remove: true})

	p.AddHandler("tmdb", re(`(?i)\btmdb\b[-=](\d+)`), firstUinteger, func(pt *ParsedTitle, val any) {
		if v, ok := val.(*int); ok {
			pt.TMDB = v
		}
	}, Options{Remove: true, SkipIfAlreadyFound: true})
	p.AddHandler("tvdb", re(`(?i)\btvdb\b[-=](\d+)`), firstUinteger, func(pt *ParsedTitle, val any) {
		if v, ok := val.(*int); ok {
			pt.TVDB = v
		}
	}, Options{Remove: true, SkipIfAlreadyFound: true})
}

func registerGroupRules(p *Parser) {
	p.AddHandler("group", re(`^\[([^\[\]]+)\]`), value, func(pt *ParsedTitle, val any) {
		pt.Group = strPtr(val.(string))
	}, Options{SkipIfAlreadyFound: true})
	p.AddHandler("group", re(`\(([\w-]+)\)$`), value, func(pt *ParsedTitle, val any) {
		pt.Group = strPtr(val.(string))
	}, Options{SkipIfAlreadyFound: true})
	p.AddHandler("group", re(`-\s*([A-Za-z0-9][\w'.]*)\s*$`), value, func(pt *ParsedTitle, val any) {
		pt.Group = strPtr(val.(string))
	}, Options{SkipIfAlreadyFound: true})
}
