package export

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// IndexFileName is the generated index page.
const IndexFileName = "index.html"

// ErrNoXMLFiles is returned when there is nothing to index.
var ErrNoXMLFiles = errors.New("no XML files found")

// IndexEntry links one feed file under a display name.
type IndexEntry struct {
	File string
	Name string
}

// TreeIndexData fills the tree layout.
type TreeIndexData struct {
	Caption string
	Entries []IndexEntry
}

var simpleIndexTemplate = template.Must(template.New("simple").Parse(
	`<html><head><title>XML Index</title></head><body><h1>XML Files Index</h1><ul>` +
		`{{range .}}<li><a href="{{.}}">{{.}}</a></li>{{end}}` +
		`</ul></body></html>
`))

var treeIndexTemplate = template.Must(template.New("tree").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <meta http-equiv="X-UA-Compatible" content="IE=edge,chrome=1">

    <title>Index</title>
</head>
<body>
    <div class="col-md-6" style="margin:20px;">
        <div class="portlet yellow-lemon box">
            <div class="portlet-title">
                <div class="caption">
                    <i class="fa fa-cogs"></i>{{.Caption}}
                </div>
            </div>
            <div class="portlet-body">
                <div id="tree_3" class="tree-demo jstree jstree-3 jstree-default" role="tree" aria-activedescendant="j3_1">
                    <ul class="jstree-container-ul jstree-children">
{{- range $i, $e := .Entries}}
                        <li role="treeitem" id="j3_{{$i}}" class="jstree-node jstree-leaf jstree-last" aria-selected="false">
                            <i class="jstree-icon jstree-ocl"></i>
                            <a class="jstree-anchor" href="{{$e.File}}" target="_self">
                                <i class="jstree-icon jstree-themeicon fa fa-folder icon-state-warning icon-lg jstree-themeicon-custom"></i>{{$e.Name}}
                            </a>
                        </li>
{{- end}}
                    </ul>
                </div>
            </div>
        </div>
    </div>
</body>
</html>
`))

// ListXMLFiles returns the names of the .xml files in dir, sorted.
func ListXMLFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), ".xml") {
			files = append(files, entry.Name())
		}
	}
	return files, nil
}

// SimpleIndex renders a plain list linking every file by its name.
func SimpleIndex(w io.Writer, files []string) error {
	return simpleIndexTemplate.Execute(w, files)
}

// TreeIndex renders the tree layout with display names.
func TreeIndex(w io.Writer, data TreeIndexData) error {
	return treeIndexTemplate.Execute(w, data)
}

// WriteSimpleIndex lists the XML files of dir into dir/index.html.
func WriteSimpleIndex(dir string) (string, error) {
	files, err := ListXMLFiles(dir)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", ErrNoXMLFiles
	}

	path := filepath.Join(dir, IndexFileName)
	if err := writeFile(path, func(w io.Writer) error { return SimpleIndex(w, files) }); err != nil {
		return "", err
	}
	return path, nil
}

// WriteTreeIndex writes the tree layout to dir/index.html, replacing it.
func WriteTreeIndex(dir string, data TreeIndexData) (string, error) {
	path := filepath.Join(dir, IndexFileName)
	if err := writeFile(path, func(w io.Writer) error { return TreeIndex(w, data) }); err != nil {
		return "", err
	}
	return path, nil
}

// ReadDisplayNames reads the link texts of an existing index page, keyed by
// link target. A missing page yields an empty map.
func ReadDisplayNames(path string) (map[string]string, error) {
	names := make(map[string]string)

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return names, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if decoded, err := url.PathUnescape(href); err == nil {
			href = decoded
		}
		name := strings.Join(strings.Fields(a.Text()), " ")
		if href != "" && name != "" {
			names[href] = name
		}
	})
	return names, nil
}
