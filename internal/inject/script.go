// Package inject 生成在每个新文档中执行的通知权限垫片脚本。
package inject

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed notification.js.tmpl
var notificationTmpl string

var tmpl = template.Must(template.New("notification").Parse(notificationTmpl))

// Options 垫片参数
type Options struct {
	// Permission Notification.permission 的固定返回值
	Permission string
	// WrapRequestPermission 为 true 时记录 Notification.requestPermission 的调用参数
	WrapRequestPermission bool
}

// Script 渲染脚本源码
func Script(opts Options) (string, error) {
	switch opts.Permission {
	case "":
		opts.Permission = "default"
	case "default", "granted", "denied":
	default:
		return "", fmt.Errorf("notification permission %q: want default, granted or denied", opts.Permission)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, opts); err != nil {
		return "", err
	}
	return b.String(), nil
}
