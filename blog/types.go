package blog

// ArticleSummary is one entry of the article index.
type ArticleSummary struct {
	ID    string `json:"id"`
	UID   string `json:"uid"`
	Title string `json:"title"`
	Date  string `json:"date"`
}

// ArticleIndex maps a category slug (frontend, tools, topics, novels) to its
// articles.
type ArticleIndex map[string][]ArticleSummary

// Article is a full article as served by the detail endpoint.
type Article struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Date     string `json:"date"`
	Content  string `json:"content"`
	Category string `json:"category,omitempty"`
}

// ArticleDraft is the body of an article save. IsNew selects create over
// update; Slug doubles as the article id.
type ArticleDraft struct {
	IsNew    bool   `json:"isNew"`
	Slug     string `json:"slug"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Date     string `json:"date"`
	Content  string `json:"content"`
}

type Friend struct {
	ID     string   `json:"id,omitempty"`
	Name   string   `json:"name"`
	Desc   string   `json:"desc"`
	URL    string   `json:"url"`
	Avatar string   `json:"avatar"`
	Tags   []string `json:"tags"`
}

type Artwork struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Thumbnail   string `json:"thumbnail"`
	Fullsize    string `json:"fullsize"`
	Description string `json:"description"`
	Date        string `json:"date"`
}

type saveArticleResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

type friendsResponse struct {
	Friends []Friend `json:"friends"`
}

type friendResponse struct {
	Friend Friend `json:"friend"`
}

type artworksResponse struct {
	Artworks []Artwork `json:"artworks"`
}

type artworkResponse struct {
	Artwork Artwork `json:"artwork"`
}

// errorBody covers both error shapes the backend uses.
type errorBody struct {
	Error   string `json:"error"`
	Msg     string `json:"msg"`
	Message string `json:"message"`
}
