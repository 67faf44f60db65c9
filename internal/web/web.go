// Package web 内嵌聊天页面的模板与静态资源。
package web

import (
	"embed"
	"html/template"
	"io/fs"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Templates 返回解析好的页面模板。
func Templates() (*template.Template, error) {
	return template.ParseFS(templateFS, "templates/*.html")
}

// Static 返回以 static 目录为根的静态资源文件系统。
func Static() fs.FS {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// PageData 是 index.html 的渲染数据。
type PageData struct {
	PageTitle   string
	Title       string
	Banner      string
	Welcome     string
	FAQTitle    string
	Placeholder string
	Spinner     string
	Suggestions []Suggestion
}

// Suggestion 是页面上的一个预设问题按钮。
type Suggestion struct {
	ID    string
	Label string
}

const (
	PageTitle        = "모구챗 - My RAG 챗봇"
	BannerMessage    = "챗봇 초기화에 실패했습니다. API 토큰이 올바르게 설정되었는지 확인해주세요."
	WelcomeMessage   = "궁금한 내용을 입력해주시면, 답변을 빠르게 챗봇이 도와드릴게요."
	FAQTitle         = "많이 찾는 질문 TOP 3"
	InputPlaceholder = "궁금한 내용을 입력하세요..."
	SpinnerMessage   = "답변을 생성하고 있어요... 잠시만 기다려주세요."
)
