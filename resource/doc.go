/*
Package resource contains the types shared by the rendering and the
fetching packages: the inbound request scope, the context of one
resource fetch, the renderer chain, the providers and the error pages.

A Request lives for one inbound request. Every fragment fetched while
serving it gets its own Context, created fresh and never shared between
fetches. Renderers are plain functions transforming the text of a
fetched page, they are applied left to right by Chain.
*/
package resource
