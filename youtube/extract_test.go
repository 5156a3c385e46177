package youtube

import "testing"

func TestExtractID(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"canonical https", "https://www.youtube.com/watch?v=IU5NSSzYygk", "IU5NSSzYygk"},
		{"escaped trailing param", "https://www.youtube.com/watch?v=V5E8kDo2n6g&amp;feature=youtu.be", "V5E8kDo2n6g"},
		{"escaped leading param", "http://www.youtube.com/watch?feature=player_embedded&amp;v=LEN5rn47gYQ", "LEN5rn47gYQ"},
		{"leading dash", "https://www.youtube.com/watch?v=-8_0eAME3Xw", "-8_0eAME3Xw"},
		{"inner dash", "http://www.youtube.com/watch?v=N-gPAMeXlQk", "N-gPAMeXlQk"},
		{"short form", "http://youtu.be/co9IZOSssFw", "co9IZOSssFw"},
		{"short form underscore", "http://youtu.be/Cy0RPWK_5wg", "Cy0RPWK_5wg"},
		{"attribution link", "http://www.youtube.com/attribution_link?a=P3m5pZfhr5Y&u=%2Fwatch%3Fv%3DHnc-1rXLx_4%26feature%3Dshare", "Hnc-1rXLx_4"},
		{"embed", "https://www.youtube.com/embed/co9IZOSssFw", "co9IZOSssFw"},
		{"mobile", "https://m.youtube.com/watch?v=IU5NSSzYygk", "IU5NSSzYygk"},
		{"image host", "http://i.imgur.com/KJ0h3nZ.png", ""},
		{"tweet", "https://twitter.com/someuser/status/488815469355339776", ""},
		{"too short", "https://www.youtube.com/watch?v=abc", ""},
		{"too long", "https://www.youtube.com/watch?v=IU5NSSzYygkX", ""},
		{"empty", "", ""},
		{"garbage", "%%%not a url", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractID(tt.url); got != tt.want {
				t.Errorf("ExtractID(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}
